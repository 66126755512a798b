package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/realtalk/pkg/audio"
)

// Outbound message types.
const (
	TypeSessionUpdate      = "session.update"
	TypeResponseCreate     = "response.create"
	TypeInputAudioAppend   = "input_audio_buffer.append"
	AudioFormatPCM16       = "pcm16"
	TurnDetectionServerVAD = "server_vad"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// Transcription configures service-side transcription of the input audio.
type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// SessionConfig is the negotiated session configuration carried by
// session.update.
type SessionConfig struct {
	MaxResponseOutputTokens int            `json:"max_response_output_tokens"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	TurnDetection           TurnDetection  `json:"turn_detection"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
}

// Command is an outbound message. The set of variants is closed:
// [SessionUpdate], [ResponseCreate] and [AudioAppend].
type Command interface {
	// Type returns the wire "type" discriminator.
	Type() string

	isCommand()
}

// SessionUpdate configures the session. It is sent once, before any audio.
type SessionUpdate struct {
	Session SessionConfig
}

// ResponseCreate asks the service to start responding.
type ResponseCreate struct {
	Modalities   []string
	Instructions string
}

// AudioAppend carries one captured frame of raw PCM16. The bytes are base64
// encoded when the command is marshalled.
type AudioAppend struct {
	Audio []byte
}

func (SessionUpdate) Type() string { return TypeSessionUpdate }
func (ResponseCreate) Type() string { return TypeResponseCreate }
func (AudioAppend) Type() string { return TypeInputAudioAppend }

func (SessionUpdate) isCommand() {}
func (ResponseCreate) isCommand() {}
func (AudioAppend) isCommand() {}

// Wire shapes. Field order is significant for readability of captured
// traffic only; the service does not depend on it.

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type responseParams struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
}

type responseCreateMessage struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// MarshalCommand serializes cmd into one wire message.
func MarshalCommand(cmd Command) ([]byte, error) {
	var msg any
	switch c := cmd.(type) {
	case SessionUpdate:
		msg = sessionUpdateMessage{Type: TypeSessionUpdate, Session: c.Session}
	case *SessionUpdate:
		msg = sessionUpdateMessage{Type: TypeSessionUpdate, Session: c.Session}
	case ResponseCreate:
		msg = newResponseCreate(c)
	case *ResponseCreate:
		msg = newResponseCreate(*c)
	case AudioAppend:
		msg = appendAudioMessage{Type: TypeInputAudioAppend, Audio: audio.Encode(c.Audio)}
	case *AudioAppend:
		msg = appendAudioMessage{Type: TypeInputAudioAppend, Audio: audio.Encode(c.Audio)}
	default:
		return nil, fmt.Errorf("realtime: unsupported command %T", cmd)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal %s: %w", cmd.Type(), err)
	}
	return data, nil
}

func newResponseCreate(c ResponseCreate) responseCreateMessage {
	modalities := c.Modalities
	if modalities == nil {
		modalities = []string{}
	}
	return responseCreateMessage{
		Type: TypeResponseCreate,
		Response: responseParams{
			Modalities:   modalities,
			Instructions: c.Instructions,
		},
	}
}
