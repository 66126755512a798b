// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out a scripted Session. Use
// Session to feed inbound events and errors and to inspect the commands that
// were sent.
//
// Example:
//
//	sess := mock.NewSession(
//	    mock.Event(realtime.SessionAcknowledged{EventType: realtime.TypeSessionUpdated}),
//	    mock.Event(realtime.AudioDelta{Audio: pcm}),
//	)
//	p := &mock.Provider{Session: sess}
//
// When the script is exhausted, Receive reports a peer close unless Hold is
// set, in which case it blocks until the context is cancelled, the session is
// closed, the test calls Hangup, or more steps are Pushed.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// Step is one scripted result of Session.Receive.
type Step struct {
	Event realtime.Event
	Err   error
}

// Event is a convenience constructor for a Step yielding evt.
func Event(evt realtime.Event) Step { return Step{Event: evt} }

// Err is a convenience constructor for a Step yielding err.
func Err(err error) Step { return Step{Err: err} }

// ── Provider ──────────────────────────────────────────────────────────────────

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with an empty script.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// URL is returned by Endpoint.
	URL string

	// ConnectCallCount is the number of times Connect was called.
	ConnectCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCallCount++
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Endpoint returns URL, or "mock://realtime" when unset.
func (p *Provider) Endpoint() string {
	if p.URL == "" {
		return "mock://realtime"
	}
	return p.URL
}

// Connects returns the number of Connect calls. Thread-safe.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectCallCount
}

var _ realtime.Provider = (*Provider)(nil)

// ── Session ───────────────────────────────────────────────────────────────────

// Session is a mock implementation of realtime.Session.
type Session struct {
	// SessionID is returned by ID.
	SessionID string

	// SendErr, if non-nil, is returned from every Send after the first
	// FailSendAfter successful sends.
	SendErr       error
	FailSendAfter int

	// Hold makes Receive block after the script is exhausted instead of
	// reporting a peer close.
	Hold bool

	// OnSend, if set, is called after each recorded command. It runs without
	// the session lock held, so it may inspect the session.
	OnSend func(realtime.Command)

	mu         sync.Mutex
	script     []Step
	sent       []realtime.Command
	closeCount int
	closed     chan struct{}
	closeOnce  sync.Once
	hungUp     chan struct{}
	hangupOnce sync.Once
	pushed     chan struct{}
}

// NewSession returns a Session that replays steps from Receive in order.
func NewSession(steps ...Step) *Session {
	return &Session{
		SessionID: "mock-session",
		script:    steps,
		closed:    make(chan struct{}),
		hungUp:    make(chan struct{}),
		pushed:    make(chan struct{}, 1),
	}
}

func (s *Session) init() {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	if s.hungUp == nil {
		s.hungUp = make(chan struct{})
	}
	if s.pushed == nil {
		s.pushed = make(chan struct{}, 1)
	}
}

// errPeerGone is the send failure after Hangup.
var errPeerGone = errors.New("mock: connection closed by peer")

// ID returns SessionID.
func (s *Session) ID() string { return s.SessionID }

// Send records cmd. After Close it returns a TransportError wrapping
// realtime.ErrSessionClosed.
func (s *Session) Send(ctx context.Context, cmd realtime.Command) error {
	s.mu.Lock()
	s.init()
	if s.closeCount > 0 {
		s.mu.Unlock()
		return &realtime.TransportError{Op: "send", Type: cmd.Type(), Err: realtime.ErrSessionClosed}
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	select {
	case <-s.hungUp:
		s.mu.Unlock()
		return &realtime.TransportError{Op: "send", Type: cmd.Type(), Err: errPeerGone}
	default:
	}
	if s.SendErr != nil && len(s.sent) >= s.FailSendAfter {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, cmd)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return nil
}

// Receive pops the next scripted step.
func (s *Session) Receive(ctx context.Context) (realtime.Event, error) {
	for {
		s.mu.Lock()
		s.init()
		closed, hungUp, pushed := s.closed, s.hungUp, s.pushed
		if s.closeCount > 0 {
			s.mu.Unlock()
			return nil, &realtime.TransportError{Op: "receive", Err: realtime.ErrSessionClosed}
		}
		if len(s.script) > 0 {
			step := s.script[0]
			s.script = s.script[1:]
			s.mu.Unlock()
			return step.Event, step.Err
		}
		hold := s.Hold
		s.mu.Unlock()

		if !hold {
			return nil, &realtime.ConnectionClosedError{Code: 1000, Reason: "script exhausted"}
		}
		select {
		case <-hungUp:
			return nil, &realtime.ConnectionClosedError{Code: 1000, Reason: "peer hangup"}
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-closed:
			return nil, &realtime.TransportError{Op: "receive", Err: realtime.ErrSessionClosed}
		case <-hungUp:
			return nil, &realtime.ConnectionClosedError{Code: 1000, Reason: "peer hangup"}
		case <-pushed:
		}
	}
}

// Push appends steps to the script and wakes a held Receive.
func (s *Session) Push(steps ...Step) {
	s.mu.Lock()
	s.init()
	s.script = append(s.script, steps...)
	pushed := s.pushed
	s.mu.Unlock()
	select {
	case pushed <- struct{}{}:
	default:
	}
}

// Hangup emulates the peer closing the connection: a held Receive reports a
// peer close and every later Send fails.
func (s *Session) Hangup() {
	s.mu.Lock()
	s.init()
	hungUp := s.hungUp
	s.mu.Unlock()
	s.hangupOnce.Do(func() { close(hungUp) })
}

// Close records the call and unblocks a held Receive.
func (s *Session) Close() error {
	s.mu.Lock()
	s.init()
	s.closeCount++
	closed := s.closed
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(closed) })
	return nil
}

// Sent returns a copy of all recorded commands.
func (s *Session) Sent() []realtime.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Command, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentOfType returns the recorded commands whose Type matches typ.
func (s *Session) SentOfType(typ string) []realtime.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []realtime.Command
	for _, c := range s.sent {
		if c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Done is closed on the first Close.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.closed
}

var _ realtime.Session = (*Session)(nil)
