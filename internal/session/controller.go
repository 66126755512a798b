// Package session owns the lifetime of one realtime session: it connects,
// configures, runs the capture and playback pipelines concurrently against
// the shared connection, and tears everything down together.
//
// A [Controller] moves through
//
//	Idle → Connecting → Configuring → Streaming → Closing → Closed
//
// with Error reachable from any non-terminal state. Transitions only move
// forward. The first pipeline to return, for any reason, cancels its sibling;
// the connection is closed exactly once after both have returned.
//
// This package is internal because it encapsulates application-private
// session logic and is not intended for import by external code.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/pipeline"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// defaultNotificationBuffer is the buffer depth of the channel returned by
// [Controller.Notifications].
const defaultNotificationBuffer = 64

// ErrAlreadyRun is returned by a second call to [Controller.Run].
var ErrAlreadyRun = errors.New("session: controller already ran")

// ── State ─────────────────────────────────────────────────────────────────────

// State is a lifecycle phase of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateStreaming
	StateClosing
	StateClosed
	StateError
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateClosed || s == StateError }

// ── Notifications ─────────────────────────────────────────────────────────────

// Notification is a lifecycle event surfaced to boundary consumers. Exactly
// one of State (for a transition) or Event (for an inbound service event) is
// meaningful; Event is nil for transitions.
type Notification struct {
	At time.Time

	// State is the state entered. Set for transitions only.
	State State

	// Event is the inbound event. Nil for transitions.
	Event realtime.Event
}

// ── Options ───────────────────────────────────────────────────────────────────

// ResponseRequest describes the response.create sent once streaming starts.
type ResponseRequest struct {
	Modalities   []string
	Instructions string

	// OnTurnEnd re-sends the request each time the service reports the end
	// of user speech, instead of relying on server-side VAD to respond.
	OnTurnEnd bool
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithResponse sets the response request. Defaults to a text-only request
// without instructions.
func WithResponse(r ResponseRequest) Option {
	return func(c *Controller) { c.response = r }
}

// WithCaptureOptions passes options through to the capture pipeline.
func WithCaptureOptions(opts ...pipeline.CaptureOption) Option {
	return func(c *Controller) { c.captureOpts = append(c.captureOpts, opts...) }
}

// WithPlaybackOptions passes options through to the playback pipeline.
func WithPlaybackOptions(opts ...pipeline.PlaybackOption) Option {
	return func(c *Controller) { c.playbackOpts = append(c.playbackOpts, opts...) }
}

// WithMetrics sets the metrics sink for the controller and both pipelines.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithNotificationBuffer sets the depth of the notification channel.
// Notifications that do not fit are dropped.
func WithNotificationBuffer(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.notifyBuf = n
		}
	}
}

// ── Controller ────────────────────────────────────────────────────────────────

// Controller runs one realtime session. All exported methods are safe for
// concurrent use. A Controller runs at most once.
type Controller struct {
	provider     realtime.Provider
	device       audio.Device
	config       realtime.SessionConfig
	response     ResponseRequest
	captureOpts  []pipeline.CaptureOption
	playbackOpts []pipeline.PlaybackOption
	metrics      *observe.Metrics
	notifyBuf    int

	notifyCh chan Notification
	turnEnd  chan struct{}

	mu        sync.Mutex
	state     State
	ran       bool
	stopped   bool
	cancel    context.CancelFunc
	sessionID string
	span      trace.Span
}

// New creates a Controller that opens sessions through provider and audio
// handles through device. cfg is the configuration sent with session.update.
func New(provider realtime.Provider, device audio.Device, cfg realtime.SessionConfig, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		device:    device,
		config:    cfg,
		response:  ResponseRequest{Modalities: []string{"text"}},
		notifyBuf: defaultNotificationBuffer,
		turnEnd:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.notifyCh = make(chan Notification, c.notifyBuf)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the connected session, or "" before Connect
// succeeds. Once the service acknowledges the session, its own ID is used.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Notifications returns the channel on which state transitions and inbound
// service events are published. The channel is closed when Run returns.
func (c *Controller) Notifications() <-chan Notification {
	return c.notifyCh
}

// Stop requests a clean shutdown. It is safe to call before, during, or after
// Run, and more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Run executes the session to completion. It returns nil when the session
// ends through Stop, ctx cancellation, a peer close, or the capture duration
// limit, and the first pipeline failure otherwise. In every case both device
// handles and the connection have been released when Run returns.
func (c *Controller) Run(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return ErrAlreadyRun
	}
	c.ran = true
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	stopped := c.stopped
	c.mu.Unlock()
	defer close(c.notifyCh)

	if stopped {
		c.advance(StateClosed)
		return nil
	}

	ctx, span := observe.StartSessionSpan(ctx, c.provider.Endpoint())
	defer func() { observe.EndSessionSpan(span, c.State().String(), err) }()
	c.mu.Lock()
	c.span = span
	c.mu.Unlock()
	log := observe.Logger(ctx)

	c.advance(StateConnecting)
	sess, err := c.provider.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("session stopped before connecting")
			c.advance(StateClosed)
			return nil
		}
		return c.fail(ctx, fmt.Errorf("session: %w", err))
	}

	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			if cerr := sess.Close(); cerr != nil {
				log.Warn("session close failed", "session_id", sess.ID(), "err", cerr)
			}
		})
	}
	defer closeSession()

	watched := &watchedSession{Session: sess}

	c.mu.Lock()
	c.sessionID = sess.ID()
	c.mu.Unlock()
	observe.SessionConnected(span, sess.ID())
	log = log.With("session_id", sess.ID())
	log.Info("session connected", "endpoint", c.provider.Endpoint())

	c.metrics.ActiveSessions.Add(ctx, 1)
	start := time.Now()
	defer func() {
		c.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		c.metrics.SessionDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
	}()

	c.advance(StateConfiguring)

	capture := pipeline.NewCapture(c.device, c.config,
		append([]pipeline.CaptureOption{pipeline.WithCaptureMetrics(c.metrics)}, c.captureOpts...)...)
	playback := pipeline.NewPlayback(c.device,
		append(append([]pipeline.PlaybackOption{pipeline.WithPlaybackMetrics(c.metrics)}, c.playbackOpts...),
			pipeline.WithNotify(c.onEvent))...)

	g, gctx := errgroup.WithContext(ctx)
	gctx, stopPipelines := context.WithCancel(gctx)
	defer stopPipelines()

	g.Go(func() error {
		defer stopPipelines()
		defer c.advance(StateClosing)
		return playback.Run(gctx, watched)
	})
	g.Go(func() error {
		defer stopPipelines()
		defer c.advance(StateClosing)
		if err := capture.Configure(gctx, watched); err != nil {
			return ignoreIfStopped(gctx, err)
		}
		if err := c.requestResponse(gctx, watched); err != nil {
			return ignoreIfStopped(gctx, err)
		}
		c.advance(StateStreaming)
		return capture.Stream(gctx, watched)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	for {
		select {
		case err = <-done:
			c.advance(StateClosing)
			closeSession()
			if err != nil && watched.peerClosed.Load() && isSendFailure(err) {
				log.Info("send interrupted by peer close", "err", err)
				err = nil
			}
			if err != nil {
				return c.fail(ctx, fmt.Errorf("session: %w", err))
			}
			log.Info("session closed", "elapsed", time.Since(start).Round(time.Millisecond))
			c.advance(StateClosed)
			return nil

		case <-c.turnEnd:
			// Before streaming, the initial request is still pending.
			if !c.response.OnTurnEnd || gctx.Err() != nil || c.State() != StateStreaming {
				continue
			}
			if err := c.requestResponse(gctx, watched); err != nil && gctx.Err() == nil {
				log.Warn("response request after turn end failed", "err", err)
			}
		}
	}
}

// requestResponse sends response.create with the configured parameters.
func (c *Controller) requestResponse(ctx context.Context, sess realtime.Session) error {
	cmd := realtime.ResponseCreate{
		Modalities:   c.response.Modalities,
		Instructions: c.response.Instructions,
	}
	if err := sess.Send(ctx, cmd); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}

// onEvent runs on the playback goroutine for every non-audio event.
func (c *Controller) onEvent(evt realtime.Event) {
	switch e := evt.(type) {
	case realtime.SessionAcknowledged:
		if e.SessionID != "" {
			c.mu.Lock()
			c.sessionID = e.SessionID
			span := c.span
			c.mu.Unlock()
			if span != nil {
				observe.SessionAcknowledged(span, e.SessionID)
			}
		}
	case realtime.SpeechStopped:
		select {
		case c.turnEnd <- struct{}{}:
		default:
		}
	}
	c.publish(Notification{At: time.Now(), Event: evt})
}

// advance moves to s if that is a forward transition from a non-terminal
// state. It reports whether the state changed.
func (c *Controller) advance(s State) bool {
	c.mu.Lock()
	from := c.state
	if from.Terminal() || (s != StateError && s <= from) {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.mu.Unlock()

	observe.Logger(context.Background()).Debug("session state changed", "from", from, "to", s)
	c.publish(Notification{At: time.Now(), State: s})
	return true
}

// fail records err, enters StateError, and returns err.
func (c *Controller) fail(ctx context.Context, err error) error {
	c.metrics.RecordSessionError(context.WithoutCancel(ctx), errorKind(err))
	observe.Logger(ctx).Error("session failed", "err", err)
	c.advance(StateError)
	return err
}

// publish delivers n without blocking; it is dropped when the consumer lags.
func (c *Controller) publish(n Notification) {
	select {
	case c.notifyCh <- n:
	default:
		observe.Logger(context.Background()).Debug("notification dropped", "state", n.State, "event", n.Event != nil)
	}
}

// watchedSession records whether the peer closed the connection, so that a
// send racing with the close is not reported as a failure.
type watchedSession struct {
	realtime.Session
	peerClosed atomic.Bool
}

func (w *watchedSession) Receive(ctx context.Context) (realtime.Event, error) {
	evt, err := w.Session.Receive(ctx)
	if realtime.IsConnectionClosed(err) {
		w.peerClosed.Store(true)
	}
	return evt, err
}

func isSendFailure(err error) bool {
	var te *realtime.TransportError
	return errors.As(err, &te) && te.Op == "send"
}

// ignoreIfStopped returns nil when err is a consequence of the sibling
// pipeline having already stopped the session.
func ignoreIfStopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// errorKind classifies err for the session error counter.
func errorKind(err error) string {
	var (
		connErr *realtime.ConnectionError
		tErr    *realtime.TransportError
		devErr  *audio.DeviceError
	)
	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &devErr):
		return "device"
	case errors.As(err, &tErr):
		return "transport"
	default:
		return "other"
	}
}
