//go:build !portaudio

package portaudio

import (
	"context"

	"github.com/MrWong99/realtalk/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Available reports whether PortAudio support is compiled in.
const Available = false

// Device is the placeholder used when PortAudio support is not compiled in.
type Device struct{}

// New returns a device whose open calls always fail with [ErrUnavailable].
func New() *Device { return &Device{} }

// OpenSource always fails with a [audio.DeviceError] wrapping [ErrUnavailable].
func (d *Device) OpenSource(context.Context, audio.Format) (audio.Source, error) {
	return nil, &audio.DeviceError{Op: "open", Device: Name, Err: ErrUnavailable}
}

// OpenSink always fails with a [audio.DeviceError] wrapping [ErrUnavailable].
func (d *Device) OpenSink(context.Context, audio.Format) (audio.Sink, error) {
	return nil, &audio.DeviceError{Op: "open", Device: Name, Err: ErrUnavailable}
}
