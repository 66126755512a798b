// Package ffmpeg implements [audio.Device] by piping raw PCM16 through ffmpeg
// subprocesses: one reading the microphone into stdout, one playing stdin to
// the speaker. It needs no cgo and works wherever an ffmpeg binary with the
// chosen input/output formats (pulse, alsa, avfoundation, dshow) is installed.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/realtalk/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Name is the backend name used in configuration and error messages.
const Name = "ffmpeg"

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopTimeout  = 1200 * time.Millisecond
)

// Option configures a [Device].
type Option func(*Device)

// WithInput selects the ffmpeg input format and device (e.g. "pulse", "default").
func WithInput(format, device string) Option {
	return func(d *Device) {
		if format != "" {
			d.inputFormat = format
		}
		if device != "" {
			d.inputDevice = device
		}
	}
}

// WithOutput selects the ffmpeg output format and device (e.g. "alsa", "default").
func WithOutput(format, device string) Option {
	return func(d *Device) {
		if format != "" {
			d.outputFormat = format
		}
		if device != "" {
			d.outputDevice = device
		}
	}
}

// WithStartupGrace sets how long Open waits to detect an ffmpeg process that
// exits immediately (bad device, missing format).
func WithStartupGrace(d time.Duration) Option {
	return func(dev *Device) { dev.startupGrace = d }
}

// Device spawns one ffmpeg process per opened stream.
type Device struct {
	command      string
	inputFormat  string
	inputDevice  string
	outputFormat string
	outputDevice string
	startupGrace time.Duration
}

// New returns a Device running command (default "ffmpeg").
func New(command string, opts ...Option) *Device {
	if command == "" {
		command = "ffmpeg"
	}
	d := &Device{
		command:      command,
		inputFormat:  "pulse",
		inputDevice:  "default",
		outputFormat: "pulse",
		outputDevice: "default",
		startupGrace: defaultStartupGrace,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenSource starts an ffmpeg process that writes s16le mono PCM at
// f.SampleRate to stdout.
func (d *Device) OpenSource(_ context.Context, f audio.Format) (audio.Source, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.inputFormat,
		"-i", d.inputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.Command(d.command, args...)
	// An os.Pipe instead of StdoutPipe: Wait runs concurrently with reads
	// and must not close the read end under them.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	cmd.Stdout = w
	p, err := d.start(cmd)
	_ = w.Close()
	if err != nil {
		_ = stdout.Close()
		return nil, err
	}
	return &source{proc: p, stdout: stdout, frameBytes: f.FrameBytes()}, nil
}

// OpenSink starts an ffmpeg process that plays s16le mono PCM read from stdin.
func (d *Device) OpenSink(_ context.Context, f audio.Format) (audio.Sink, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", "1",
		"-i", "-",
		"-f", d.outputFormat,
		d.outputDevice,
	}
	cmd := exec.Command(d.command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	p, err := d.start(cmd)
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	return &sink{proc: p, stdin: stdin}, nil
}

// start launches cmd and fails if it exits within the startup grace period.
func (d *Device) start(cmd *exec.Cmd) (*process, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = defaultStopTimeout
	if err := cmd.Start(); err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			err = fmt.Errorf("exited before streaming started: %w: %s", err, trimmed(&stderr))
		} else {
			err = errors.New("exited before streaming started")
		}
		return nil, &audio.DeviceError{Op: "open", Device: Name, Err: err}
	case <-time.After(d.startupGrace):
	}

	return &process{proc: cmd.Process, stderr: &stderr, waitErr: waitErr}, nil
}

// ─── process ──────────────────────────────────────────────────────────────────

type process struct {
	proc    *os.Process
	stderr  *bytes.Buffer
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// stop asks ffmpeg to finish (SIGINT), waits briefly, then kills it. beforeWait
// runs first and is used to close the process's pipe.
func (p *process) stop(beforeWait func() error, signal bool) error {
	p.stopOnce.Do(func() {
		pipeErr := beforeWait()
		if signal && p.proc != nil {
			_ = p.proc.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(defaultStopTimeout):
			if p.proc != nil {
				_ = p.proc.Kill()
			}
			if err, ok := <-p.waitErr; ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if p.stopErr == nil && pipeErr != nil && !errors.Is(pipeErr, os.ErrClosed) {
			p.stopErr = pipeErr
		}
		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimmed(p.stderr))
		}
	})
	if p.stopErr != nil {
		return &audio.DeviceError{Op: "close", Device: Name, Err: p.stopErr}
	}
	return nil
}

// ─── source ───────────────────────────────────────────────────────────────────

type source struct {
	proc       *process
	stdout     io.ReadCloser
	frameBytes int
	closed     atomic.Bool
}

// ReadFrame blocks until a full frame has been read from ffmpeg's stdout.
func (s *source) ReadFrame() ([]byte, error) {
	if s.closed.Load() {
		return nil, audio.ErrDeviceClosed
	}

	buf := make([]byte, s.frameBytes)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return nil, &audio.DeviceError{Op: "read", Device: Name, Err: err}
	}
	return buf, nil
}

func (s *source) Close() error {
	s.closed.Store(true)
	// Interrupt first; a concurrent ReadFrame then sees EOF.
	err := s.proc.stop(func() error { return nil }, true)
	if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = &audio.DeviceError{Op: "close", Device: Name, Err: closeErr}
	}
	return err
}

// ─── sink ─────────────────────────────────────────────────────────────────────

type sink struct {
	proc   *process
	stdin  io.WriteCloser
	closed atomic.Bool
}

// WriteFrame writes pcm to ffmpeg's stdin. The pipe blocks while ffmpeg's
// output device is full, which is the playback backpressure.
func (s *sink) WriteFrame(pcm []byte) error {
	if s.closed.Load() {
		return audio.ErrDeviceClosed
	}
	if _, err := s.stdin.Write(pcm); err != nil {
		return &audio.DeviceError{Op: "write", Device: Name, Err: err}
	}
	return nil
}

// Close closes stdin so ffmpeg drains what it has buffered, then waits for it.
func (s *sink) Close() error {
	s.closed.Store(true)
	return s.proc.stop(s.stdin.Close, false)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(b *bytes.Buffer) string {
	if b == nil {
		return ""
	}
	return string(bytes.TrimSpace(b.Bytes()))
}
