// Package app wires realtalk's subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the session controller
// from the config and the injected provider and audio device, Run streams one
// session while serving metrics and health endpoints, and Shutdown tears
// everything down in order.
//
// For testing, inject mock providers and devices and use [WithListener] to
// bind the HTTP server to an ephemeral port.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/internal/health"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/pipeline"
	"github.com/MrWong99/realtalk/internal/session"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// readHeaderTimeout bounds header reads on the metrics server.
const readHeaderTimeout = 5 * time.Second

// App owns the session controller and the metrics/health server.
type App struct {
	cfg        *config.Config
	controller *session.Controller
	metrics    *observe.Metrics

	metricsHandler http.Handler
	out            io.Writer
	listener       net.Listener
	server         *http.Server

	mu       sync.Mutex
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithOutput sets where session events are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithListener serves HTTP on ln instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App that streams through provider and device using cfg.
func New(cfg *config.Config, provider realtime.Provider, device audio.Device, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: realtime provider is required")
	}
	if device == nil {
		return nil, errors.New("app: audio device is required")
	}
	a := &App{
		cfg:            cfg,
		metricsHandler: promhttp.Handler(),
		out:            os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	wire, dev := cfg.Audio.WireFormat(), cfg.Audio.DeviceFormat()
	a.controller = session.New(provider, device, cfg.Session.Realtime(),
		session.WithMetrics(a.metrics),
		session.WithResponse(session.ResponseRequest{
			Modalities:   cfg.Response.Modalities,
			Instructions: cfg.Response.Instructions,
			OnTurnEnd:    cfg.Response.RequestOnTurnEnd,
		}),
		session.WithCaptureOptions(
			pipeline.WithSendInterval(cfg.Audio.SendInterval),
			pipeline.WithMaxDuration(cfg.Session.MaxDuration),
			pipeline.WithCaptureFormat(wire, dev),
		),
		session.WithPlaybackOptions(pipeline.WithPlaybackFormat(wire, dev)),
	)
	return a, nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Handler returns the HTTP handler serving /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metricsHandler)
	health.New(
		health.StateChecker("session", a.controller.State, session.StateStreaming),
	).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Addr returns the address the HTTP server listens on, or nil before Run or
// when the server is disabled.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run starts the HTTP server (when configured), streams the session to
// completion, and prints session events until the session ends. It returns
// the session's error; the HTTP server keeps serving until Shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.startServer(); err != nil {
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		newPrinter(a.out).consume(a.controller.Notifications())
	}()

	slog.Info("session starting",
		"provider", a.cfg.Provider.Name,
		"voice", a.cfg.Session.Voice,
		"max_duration", a.cfg.Session.MaxDuration,
	)
	err := a.controller.Run(ctx)
	<-printed
	return err
}

func (a *App) startServer() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		if a.cfg.Server.ListenAddr == "" {
			return nil
		}
		ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.listener = ln
	}

	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv, ln := a.server, a.listener
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	slog.Info("metrics server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the session and the HTTP server.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.controller.Stop()

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("metrics server shutdown error", "err", err)
				shutdownErr = err
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
