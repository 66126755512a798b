// Package pipeline implements the two directions of a realtime audio session.
//
// [Capture] configures the session, then reads frames from the capture device,
// encodes them, and sends them as input_audio_buffer.append commands at a
// fixed pace. [Playback] receives inbound events, writes decoded audio deltas
// to the playback device in arrival order, and surfaces every other event to
// a notification callback.
//
// Each pipeline owns its device handle for exactly the duration of its Run and
// releases it on every exit path. Both share one [realtime.Session]; neither
// closes it, which is the caller's job.
//
// This package is internal because it encapsulates application-private
// streaming logic and is not intended for import by external code.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

const (
	// DefaultSendInterval is the minimum gap between two outbound frames.
	DefaultSendInterval = 100 * time.Millisecond

	// DefaultMaxDuration bounds one capture run.
	DefaultMaxDuration = 500 * time.Second
)

// errMaxDuration is the cancellation cause when a capture run reaches its
// configured maximum duration.
var errMaxDuration = errors.New("pipeline: maximum capture duration reached")

// CaptureOption is a functional option for configuring a [Capture].
type CaptureOption func(*Capture)

// WithSendInterval sets the minimum gap between two outbound frames. Zero
// disables pacing.
func WithSendInterval(d time.Duration) CaptureOption {
	return func(c *Capture) { c.interval = d }
}

// WithMaxDuration bounds a capture run. Reaching it ends Stream without
// error. Zero means no limit.
func WithMaxDuration(d time.Duration) CaptureOption {
	return func(c *Capture) { c.maxDuration = d }
}

// WithCaptureFormat sets the wire format sent to the service and the native
// format the device is opened with. Frames are converted when they differ.
func WithCaptureFormat(wire, device audio.Format) CaptureOption {
	return func(c *Capture) {
		c.format = wire
		c.deviceFormat = device
	}
}

// WithCaptureMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithCaptureMetrics(m *observe.Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

// Capture is the outbound pipeline: microphone → session.
type Capture struct {
	device       audio.Device
	config       realtime.SessionConfig
	format       audio.Format
	deviceFormat audio.Format
	interval     time.Duration
	maxDuration  time.Duration
	metrics      *observe.Metrics
}

// NewCapture creates a capture pipeline reading from device. cfg is sent once
// by [Capture.Configure].
func NewCapture(device audio.Device, cfg realtime.SessionConfig, opts ...CaptureOption) *Capture {
	c := &Capture{
		device:       device,
		config:       cfg,
		format:       audio.DefaultFormat(),
		deviceFormat: audio.DefaultFormat(),
		interval:     DefaultSendInterval,
		maxDuration:  DefaultMaxDuration,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Configure sends the single session.update carrying the negotiated
// configuration. It must precede any audio.
func (c *Capture) Configure(ctx context.Context, sess realtime.Session) error {
	if err := sess.Send(ctx, realtime.SessionUpdate{Session: c.config}); err != nil {
		return fmt.Errorf("pipeline: configure: %w", err)
	}
	observe.Logger(ctx).Debug("session configured",
		"session_id", sess.ID(),
		"voice", c.config.Voice,
		"input_audio_format", c.config.InputAudioFormat,
	)
	return nil
}

// Run configures the session and then streams until cancellation or the
// maximum duration.
func (c *Capture) Run(ctx context.Context, sess realtime.Session) error {
	if err := c.Configure(ctx, sess); err != nil {
		return err
	}
	return c.Stream(ctx, sess)
}

// Stream opens the capture device and sends one frame per iteration until ctx
// is cancelled or the maximum duration elapses, both of which return nil. A
// device failure returns an [*audio.DeviceError]; a send failure returns the
// wrapped [*realtime.TransportError]. The device is closed on every path.
//
// Cancellation is checked between frames only: a frame that has been read is
// either sent whole or the loop ends before sending it.
func (c *Capture) Stream(ctx context.Context, sess realtime.Session) (err error) {
	if c.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.maxDuration, errMaxDuration)
		defer cancel()
	}
	log := observe.Logger(ctx).With("session_id", sess.ID())

	src, err := c.device.OpenSource(ctx, c.deviceFormat)
	if err != nil {
		return fmt.Errorf("pipeline: capture: %w", asDeviceError("open", err))
	}
	src = audio.ConvertSource(src, c.deviceFormat, c.format)
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("capture device close failed", "err", cerr)
		}
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
	}
	// Spend the initial token so the first frame is also followed by a full
	// interval.
	limiter.Allow()

	var seq audio.Sequencer
	start := time.Now()
	for {
		if ctx.Err() != nil {
			return c.stopped(ctx, log, seq.Next(), start)
		}

		pcm, err := src.ReadFrame()
		if err != nil {
			return fmt.Errorf("pipeline: capture: %w", asDeviceError("read", err))
		}
		if ctx.Err() != nil {
			return c.stopped(ctx, log, seq.Next(), start)
		}

		frame := seq.Stamp(pcm, c.format)
		sendStart := time.Now()
		if err := sess.Send(ctx, realtime.AudioAppend{Audio: frame.Data}); err != nil {
			if ctx.Err() != nil {
				return c.stopped(ctx, log, frame.Seq, start)
			}
			return fmt.Errorf("pipeline: send frame %d: %w", frame.Seq, err)
		}
		c.metrics.RecordFrameSent(ctx, len(frame.Data), time.Since(sendStart))
		log.Debug("frame sent", "seq", frame.Seq, "bytes", len(frame.Data))

		if err := limiter.Wait(ctx); err != nil {
			// Wait also fails early when the next slot lies past the deadline.
			return c.stopped(ctx, log, seq.Next(), start)
		}
	}
}

// stopped logs why the capture loop ended cleanly and returns nil.
func (c *Capture) stopped(ctx context.Context, log *slog.Logger, frames uint64, start time.Time) error {
	reason := "cancelled"
	if errors.Is(context.Cause(ctx), errMaxDuration) || ctx.Err() == nil {
		reason = "max duration"
	}
	log.Info("capture stopped", "reason", reason, "frames", frames, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// asDeviceError wraps err in an [*audio.DeviceError] unless it already is one.
func asDeviceError(op string, err error) error {
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &audio.DeviceError{Op: op, Err: err}
}
