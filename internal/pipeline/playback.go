package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// PlaybackOption is a functional option for configuring a [Playback].
type PlaybackOption func(*Playback)

// WithNotify sets the callback that receives every non-audio event, in
// arrival order, from the playback goroutine. It must not block; a slow
// consumer stalls playback.
func WithNotify(fn func(realtime.Event)) PlaybackOption {
	return func(p *Playback) { p.notify = fn }
}

// WithPlaybackFormat sets the wire format received from the service and the
// native format the device is opened with.
func WithPlaybackFormat(wire, device audio.Format) PlaybackOption {
	return func(p *Playback) {
		p.format = wire
		p.deviceFormat = device
	}
}

// WithPlaybackMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithPlaybackMetrics(m *observe.Metrics) PlaybackOption {
	return func(p *Playback) { p.metrics = m }
}

// Playback is the inbound pipeline: session → speaker.
type Playback struct {
	device       audio.Device
	format       audio.Format
	deviceFormat audio.Format
	notify       func(realtime.Event)
	metrics      *observe.Metrics
}

// NewPlayback creates a playback pipeline writing to device.
func NewPlayback(device audio.Device, opts ...PlaybackOption) *Playback {
	p := &Playback{
		device:       device,
		format:       audio.DefaultFormat(),
		deviceFormat: audio.DefaultFormat(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run opens the playback device and dispatches inbound events until the peer
// closes the session or ctx is cancelled, both of which return nil.
//
// Audio deltas are written synchronously in arrival order; the blocking write
// is the only backpressure. Messages that fail to decode are logged and
// skipped. Any other receive failure, or a device failure, ends Run with an
// error. The device is closed on every path.
func (p *Playback) Run(ctx context.Context, sess realtime.Session) error {
	log := observe.Logger(ctx).With("session_id", sess.ID())

	sink, err := p.device.OpenSink(ctx, p.deviceFormat)
	if err != nil {
		return fmt.Errorf("pipeline: playback: %w", asDeviceError("open", err))
	}
	sink = audio.ConvertSink(sink, p.format, p.deviceFormat)
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			log.Warn("playback device close failed", "err", cerr)
		}
	}()

	var seq audio.Sequencer
	for {
		if ctx.Err() != nil {
			log.Info("playback stopped", "reason", "cancelled", "frames", seq.Next())
			return nil
		}

		evt, err := sess.Receive(ctx)
		if err != nil {
			var closed *realtime.ConnectionClosedError
			switch {
			case ctx.Err() != nil:
				log.Info("playback stopped", "reason", "cancelled", "frames", seq.Next())
				return nil
			case errors.As(err, &closed):
				log.Info("playback stopped", "reason", "peer closed", "code", closed.Code, "frames", seq.Next())
				return nil
			case errors.Is(err, realtime.ErrSessionClosed):
				log.Info("playback stopped", "reason", "session closed", "frames", seq.Next())
				return nil
			case realtime.IsRecoverable(err):
				p.metrics.RecordDecodeError(ctx)
				log.Warn("skipping undecodable message", "err", err)
				continue
			default:
				return fmt.Errorf("pipeline: receive: %w", err)
			}
		}
		p.metrics.RecordEvent(ctx, evt.Type())

		switch e := evt.(type) {
		case realtime.AudioDelta:
			if len(e.Audio) == 0 {
				continue
			}
			frame := seq.Stamp(e.Audio, p.format)
			if err := sink.WriteFrame(frame.Data); err != nil {
				return fmt.Errorf("pipeline: playback: %w", asDeviceError("write", err))
			}
			p.metrics.RecordFramePlayed(ctx, len(frame.Data))
			log.Debug("frame played", "seq", frame.Seq, "bytes", len(frame.Data), "response_id", e.ResponseID)
			continue

		case realtime.ResponseDone:
			attrs := []any{"response_id", e.ResponseID, "status", e.Status}
			if e.Usage != nil {
				attrs = append(attrs, "total_tokens", e.Usage.TotalTokens)
			}
			log.Info("response done", attrs...)

		case realtime.ServiceError:
			log.Warn("service reported error", "error", e.String())

		case realtime.Unknown:
			log.Debug("unhandled event", "type", e.EventType)

		default:
			log.Debug("event received", "type", evt.Type())
		}

		if p.notify != nil {
			p.notify(evt)
		}
	}
}
