// Package audio defines the frame type, PCM codec, and device interfaces used
// by the realtime streaming pipelines.
//
// The two primary abstractions are:
//
//   - [Source]: a microphone stream that yields fixed-size PCM16 frames.
//   - [Sink]: a speaker stream that accepts PCM16 frames in arrival order.
//
// Both are opened through a [Device]. Implementations are provided by backend
// packages (audio/portaudio, audio/ffmpeg, audio/mock). Each handle is owned by
// exactly one pipeline and must be closed by that pipeline on every exit path.
//
// This package lives under pkg/ because external code (other device backends)
// is expected to implement [Device], [Source] and [Sink].
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceClosed is returned by Source and Sink operations after Close.
var ErrDeviceClosed = errors.New("audio: device closed")

// DeviceError reports an audio hardware failure: the device could not be
// opened, or it failed mid-stream. It is terminal for the pipeline that owns
// the device.
type DeviceError struct {
	// Op is the failing operation: "open", "read", "write" or "close".
	Op string

	// Device names the backend or device that failed.
	Device string

	Err error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("audio: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Source is a live capture stream.
//
// ReadFrame blocks until the device buffer holds one full frame and returns a
// copy of its PCM16 bytes. It is not interruptible; callers check for
// cancellation between frames. Close releases the device and is idempotent.
type Source interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Sink is a live playback stream.
//
// WriteFrame blocks until the device has accepted every byte of pcm. A write is
// never split across calls, so a frame is either fully queued or not at all.
// Close releases the device and is idempotent.
type Sink interface {
	WriteFrame(pcm []byte) error
	Close() error
}

// Device opens capture and playback streams with a fixed format.
//
// Implementations must be safe for concurrent use; the capture and playback
// pipelines open their handles from different goroutines.
type Device interface {
	// OpenSource opens the default (or configured) input device.
	OpenSource(ctx context.Context, f Format) (Source, error)

	// OpenSink opens the default (or configured) output device.
	OpenSink(ctx context.Context, f Format) (Sink, error)
}
