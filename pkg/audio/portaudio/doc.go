// Package portaudio implements [audio.Device] on top of the PortAudio library
// via github.com/gordonklaus/portaudio.
//
// The real backend requires cgo and libportaudio and is only compiled with the
// "portaudio" build tag:
//
//	go build -tags portaudio ./cmd/realtalk
//
// Without the tag, [Device] still exists but every open call fails with
// [ErrUnavailable] and [Available] is false, so the rest of the module builds
// and tests without native audio libraries.
package portaudio

import "errors"

// ErrUnavailable is returned when the binary was built without PortAudio
// support.
var ErrUnavailable = errors.New("portaudio: backend not compiled in (build with -tags portaudio)")

// Name is the backend name used in configuration and error messages.
const Name = "portaudio"
