// Package openai implements the realtime.Provider interface for the OpenAI
// Realtime API and its Azure OpenAI deployment variant.
//
// It establishes a bidirectional WebSocket connection to the Realtime endpoint
// and exchanges JSON events according to the Realtime protocol. Audio is
// transmitted as base64-encoded PCM16 chunks. The two dialects differ only in
// URL layout and authentication header:
//
//   - OpenAI: wss://api.openai.com/v1/realtime?model=...,
//     "Authorization: Bearer <key>" and "OpenAI-Beta: realtime=v1".
//   - Azure: wss://<resource>/openai/realtime?deployment=...&api-version=...,
//     "api-key: <key>".
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	defaultAzureDeployment = "gpt-4o-mini-realtime-preview"
	defaultAzureAPIVersion = "2024-10-01-preview"

	// defaultReadLimit bounds a single inbound message. Audio deltas for long
	// responses easily exceed the library's 32 KiB default.
	defaultReadLimit = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions. Ignored for Azure.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. For Azure this is the resource
// endpoint ("https://my-resource.openai.azure.com"). Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithDeployment sets the Azure deployment name.
func WithDeployment(deployment string) Option {
	return func(p *Provider) {
		if deployment != "" {
			p.deployment = deployment
		}
	}
}

// WithAPIVersion sets the Azure api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
		}
	}
}

// WithReadLimit sets the maximum size in bytes of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.readLimit = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI and Azure OpenAI.
type Provider struct {
	apiKey     string
	azure      bool
	model      string
	baseURL    string
	deployment string
	apiVersion string
	readLimit  int64
	httpClient *http.Client
}

// New creates a Provider for the public OpenAI Realtime API.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		readLimit: defaultReadLimit,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewAzure creates a Provider for an Azure OpenAI realtime deployment.
// endpoint is the resource URL; "https://" is rewritten to "wss://".
func NewAzure(endpoint, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		azure:      true,
		baseURL:    endpoint,
		deployment: defaultAzureDeployment,
		apiVersion: defaultAzureAPIVersion,
		readLimit:  defaultReadLimit,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Endpoint returns the URL sessions are opened against. The credential travels
// in a header, so the URL carries no secret.
func (p *Provider) Endpoint() string {
	return p.url()
}

func (p *Provider) url() string {
	if !p.azure {
		q := url.Values{"model": []string{p.model}}
		return p.baseURL + "?" + q.Encode()
	}
	base := websocketScheme(p.baseURL)
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/openai/realtime") {
		base += "/openai/realtime"
	}
	q := url.Values{
		"deployment":  []string{p.deployment},
		"api-version": []string{p.apiVersion},
	}
	return base + "?" + q.Encode()
}

func (p *Provider) header() http.Header {
	if p.azure {
		return http.Header{"api-key": []string{p.apiKey}}
	}
	return http.Header{
		"Authorization": []string{"Bearer " + p.apiKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}
}

// Connect dials the realtime endpoint and returns a session ready for Send and
// Receive. No message is sent; configuration is the caller's first Send.
func (p *Provider) Connect(ctx context.Context) (realtime.Session, error) {
	endpoint := p.url()
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: p.header(),
	})
	if err != nil {
		return nil, &realtime.ConnectionError{Endpoint: endpoint, Err: err}
	}
	conn.SetReadLimit(p.readLimit)

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
	}
	slog.Debug("realtime session connected", "session_id", sess.id, "endpoint", endpoint, "azure", p.azure)
	return sess, nil
}

// websocketScheme rewrites http(s) URLs to ws(s) and adds wss:// to bare hosts.
func websocketScheme(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "wss://"), strings.HasPrefix(raw, "ws://"):
		return raw
	default:
		return "wss://" + raw
	}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	id   string
	conn *websocket.Conn

	// writeMu keeps each Send a single uninterrupted message even if more
	// than one producer shares the session.
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// ID returns the client-side session identifier.
func (s *session) ID() string { return s.id }

// Send marshals cmd and writes it as one text message.
func (s *session) Send(ctx context.Context, cmd realtime.Command) error {
	if s.closed.Load() {
		return &realtime.TransportError{Op: "send", Type: cmd.Type(), Err: realtime.ErrSessionClosed}
	}
	data, err := realtime.MarshalCommand(cmd)
	if err != nil {
		return &realtime.TransportError{Op: "send", Type: cmd.Type(), Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if s.closed.Load() {
			err = realtime.ErrSessionClosed
		}
		return &realtime.TransportError{Op: "send", Type: cmd.Type(), Err: err}
	}
	return nil
}

// Receive reads one message and decodes it into a realtime.Event.
func (s *session) Receive(ctx context.Context) (realtime.Event, error) {
	if s.closed.Load() {
		return nil, &realtime.TransportError{Op: "receive", Err: realtime.ErrSessionClosed}
	}

	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, s.readError(ctx, err)
	}
	if typ != websocket.MessageText {
		return nil, &realtime.TransportError{Op: "decode", Err: fmt.Errorf("unexpected %s message", typ)}
	}
	return realtime.ParseEvent(data)
}

// readError classifies a failed Read. A close frame from the peer wins over
// a concurrent cancellation so callers can tell a peer close from a local
// shutdown.
func (s *session) readError(ctx context.Context, err error) error {
	if s.closed.Load() {
		return &realtime.TransportError{Op: "receive", Err: realtime.ErrSessionClosed}
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return &realtime.ConnectionClosedError{Code: int(closeErr.Code), Reason: closeErr.Reason}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &realtime.ConnectionClosedError{Code: -1, Reason: err.Error()}
	}
	return &realtime.TransportError{Op: "receive", Err: err}
}

// Close terminates the session and releases the socket. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			slog.Debug("realtime session close", "session_id", s.id, "err", err)
		}
	})
	return nil
}
