// Package mock provides in-memory implementations of [audio.Device],
// [audio.Source] and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and written data, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Frames: [][]byte{frameA, frameB}}
//	sink := &mock.Sink{}
//	dev := &mock.Device{Source: src, Sink: sink}
//	// ... run pipelines against dev ...
//	if sink.CloseCount() != 1 { ... }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/realtalk/pkg/audio"
)

// Compile-time assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock capture stream. It yields Frames in order; once they are
// exhausted it returns ReadErr if set, otherwise it keeps producing silent
// frames of FrameSize bytes like an idle microphone would.
type Source struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order.
	Frames [][]byte

	// ReadErr is returned once Frames is exhausted. When nil, silence is
	// produced instead.
	ReadErr error

	// FrameSize is the byte length of generated silent frames. Defaults to one
	// frame of [audio.DefaultFormat].
	FrameSize int

	// Delay is slept before every read to emulate device timing.
	Delay time.Duration

	reads  int
	closes int
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return nil, audio.ErrDeviceClosed
	}
	idx := s.reads
	s.reads++
	if idx < len(s.Frames) {
		out := make([]byte, len(s.Frames[idx]))
		copy(out, s.Frames[idx])
		return out, nil
	}
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	size := s.FrameSize
	if size <= 0 {
		size = audio.DefaultFormat().FrameBytes()
	}
	return make([]byte, size), nil
}

// Close implements [audio.Source]. Every call is counted.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Reads returns how many times ReadFrame was called.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// CloseCount returns how many times Close was called.
func (s *Source) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock playback stream that records every frame written to it.
type Sink struct {
	mu sync.Mutex

	// WriteErr, when non-nil, is returned by every WriteFrame call.
	WriteErr error

	// Delay is slept inside every write to emulate device backpressure.
	Delay time.Duration

	frames [][]byte
	closes int
}

// WriteFrame implements [audio.Sink]. The frame is copied before recording.
func (s *Sink) WriteFrame(pcm []byte) error {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return audio.ErrDeviceClosed
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.frames = append(s.frames, cp)
	return nil
}

// Close implements [audio.Sink]. Every call is counted.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Frames returns a snapshot of all frames written so far, in write order.
func (s *Sink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Bytes returns the concatenation of all written frames.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, f := range s.frames {
		out = append(out, f...)
	}
	return out
}

// CloseCount returns how many times Close was called.
func (s *Sink) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device] handing out the configured Source and Sink.
type Device struct {
	mu sync.Mutex

	// Source is returned by OpenSource. A fresh silent Source is created when nil.
	Source *Source

	// Sink is returned by OpenSink. A fresh Sink is created when nil.
	Sink *Sink

	// OpenSourceErr is returned by OpenSource when non-nil.
	OpenSourceErr error

	// OpenSinkErr is returned by OpenSink when non-nil.
	OpenSinkErr error

	// CallCountOpenSource records how many times OpenSource was called.
	CallCountOpenSource int

	// CallCountOpenSink records how many times OpenSink was called.
	CallCountOpenSink int

	// LastFormat is the format passed to the most recent open call.
	LastFormat audio.Format
}

// OpenSource implements [audio.Device].
func (d *Device) OpenSource(_ context.Context, f audio.Format) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenSource++
	d.LastFormat = f
	if d.OpenSourceErr != nil {
		return nil, d.OpenSourceErr
	}
	if d.Source == nil {
		d.Source = &Source{FrameSize: f.FrameBytes()}
	}
	return d.Source, nil
}

// OpenSink implements [audio.Device].
func (d *Device) OpenSink(_ context.Context, f audio.Format) (audio.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenSink++
	d.LastFormat = f
	if d.OpenSinkErr != nil {
		return nil, d.OpenSinkErr
	}
	if d.Sink == nil {
		d.Sink = &Sink{}
	}
	return d.Sink, nil
}

// Handles returns the Source and Sink handed out so far (either may be nil).
func (d *Device) Handles() (*Source, *Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Source, d.Sink
}
