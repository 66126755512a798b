//go:build portaudio

package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/realtalk/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Available reports whether PortAudio support is compiled in.
const Available = true

// Device opens the system default PortAudio input and output streams.
//
// PortAudio initialisation is reference counted by the library itself, so
// every handle initialises on open and terminates on close. No process-wide
// state outlives the handles.
type Device struct{}

// New returns a PortAudio-backed device.
func New() *Device { return &Device{} }

// OpenSource opens a blocking mono input stream with f.FrameSamples samples per
// buffer.
func (d *Device) OpenSource(_ context.Context, f audio.Format) (audio.Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: err}
	}
	buf := make([]int16, f.FrameSamples)
	stream, err := pa.OpenDefaultStream(1, 0, float64(f.SampleRate), f.FrameSamples, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("input stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("start input stream: %w", err)}
	}
	return &source{stream: stream, buf: buf}, nil
}

// OpenSink opens a blocking mono output stream with f.FrameSamples samples per
// buffer.
func (d *Device) OpenSink(_ context.Context, f audio.Format) (audio.Sink, error) {
	if err := pa.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: err}
	}
	buf := make([]int16, f.FrameSamples)
	stream, err := pa.OpenDefaultStream(0, 1, float64(f.SampleRate), f.FrameSamples, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("output stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("start output stream: %w", err)}
	}
	return &sink{stream: stream, buf: buf}, nil
}

// ─── source ───────────────────────────────────────────────────────────────────

type source struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	closed bool
}

func (s *source) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrDeviceClosed
	}
	if err := s.stream.Read(); err != nil {
		return nil, &audio.DeviceError{Op: "read", Device: Name, Err: err}
	}
	out := make([]byte, len(s.buf)*audio.BytesPerSample)
	for i, v := range s.buf {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return closeStream(s.stream)
}

// ─── sink ─────────────────────────────────────────────────────────────────────

// sink writes fixed-size device buffers. Bytes that do not fill a whole buffer
// are carried into the next WriteFrame so no sample is dropped or reordered;
// the tail is padded with silence on Close.
type sink struct {
	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	pending []byte
	closed  bool
}

func (s *sink) WriteFrame(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrDeviceClosed
	}
	s.pending = append(s.pending, pcm...)
	chunk := len(s.buf) * audio.BytesPerSample
	for len(s.pending) >= chunk {
		if err := s.flushLocked(s.pending[:chunk]); err != nil {
			return err
		}
		s.pending = s.pending[chunk:]
	}
	return nil
}

func (s *sink) flushLocked(pcm []byte) error {
	for i := range s.buf {
		if i*2+1 < len(pcm) {
			s.buf[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		} else {
			s.buf[i] = 0
		}
	}
	if err := s.stream.Write(); err != nil {
		return &audio.DeviceError{Op: "write", Device: Name, Err: err}
	}
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var flushErr error
	if len(s.pending) > 0 {
		flushErr = s.flushLocked(s.pending)
		s.pending = nil
	}
	if err := closeStream(s.stream); err != nil {
		return err
	}
	return flushErr
}

func closeStream(stream *pa.Stream) error {
	stopErr := stream.Stop()
	closeErr := stream.Close()
	termErr := pa.Terminate()
	for _, err := range []error{stopErr, closeErr, termErr} {
		if err != nil {
			return &audio.DeviceError{Op: "close", Device: Name, Err: err}
		}
	}
	return nil
}
