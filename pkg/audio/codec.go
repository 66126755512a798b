package audio

import (
	"encoding/base64"
	"fmt"
)

// Encode converts raw PCM16 bytes to the base64 text carried in
// input_audio_buffer.append messages.
func Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Decode converts a base64 payload from a response.audio.delta event back to
// raw PCM16 bytes. Decode(Encode(b)) returns b unchanged.
func Decode(payload string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode payload: %w", err)
	}
	return pcm, nil
}
