// Command realtalk streams microphone audio to an Azure OpenAI or OpenAI
// Realtime session and plays the synthesized replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/realtalk/internal/app"
	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/audio/ffmpeg"
	"github.com/MrWong99/realtalk/pkg/audio/portaudio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
	"github.com/MrWong99/realtalk/pkg/provider/realtime/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	envFile := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "realtalk: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "realtalk: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("realtalk starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"audio", cfg.Audio.Backend,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), telemetryConfig(cfg))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	provider, err := reg.CreateProvider(cfg.Provider)
	if err != nil {
		slog.Error("failed to build realtime provider", "err", err)
		return 1
	}
	device, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to build audio device", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg, provider)

	application, err := app.New(cfg, provider, device)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("session error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltins wires the built-in realtime providers and audio backends
// into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterProvider(config.ProviderAzureOpenAI, func(e config.ProviderEntry) (realtime.Provider, error) {
		if e.Endpoint == "" {
			return nil, errors.New("azure-openai: endpoint is required")
		}
		return openai.NewAzure(e.Endpoint, e.APIKey,
			openai.WithDeployment(e.Deployment),
			openai.WithAPIVersion(e.APIVersion),
		), nil
	})
	reg.RegisterProvider(config.ProviderOpenAIRealtime, func(e config.ProviderEntry) (realtime.Provider, error) {
		return openai.New(e.APIKey,
			openai.WithModel(e.Model),
			openai.WithBaseURL(e.Endpoint),
		), nil
	})

	reg.RegisterAudio(config.BackendPortAudio, func(config.AudioConfig) (audio.Device, error) {
		return portaudio.New(), nil
	})
	reg.RegisterAudio(config.BackendFFmpeg, func(a config.AudioConfig) (audio.Device, error) {
		return ffmpeg.New(a.FFmpeg.Path,
			ffmpeg.WithInput(a.FFmpeg.InputFormat, a.FFmpeg.InputDevice),
			ffmpeg.WithOutput(a.FFmpeg.OutputFormat, a.FFmpeg.OutputDevice),
		), nil
	})
}

func printStartupSummary(cfg *config.Config, provider realtime.Provider) {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            realtalk: startup summary          ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	fmt.Printf("║  Provider     : %-29s ║\n", cfg.Provider.Name)
	fmt.Printf("║  Voice        : %-29s ║\n", cfg.Session.Voice)
	fmt.Printf("║  Audio        : %-29s ║\n", cfg.Audio.Backend+" ("+cfg.Audio.DeviceFormat().String()+")")
	fmt.Printf("║  Max duration : %-29s ║\n", cfg.Session.MaxDuration)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr  : %-29s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Audio.Backend == config.BackendPortAudio && !portaudio.Available {
		fmt.Printf("║  %-44s ║\n", "WARNING: portaudio not compiled in")
	}
	fmt.Println("╚═══════════════════════════════════════════════╝")
	slog.Debug("realtime endpoint", "url", provider.Endpoint())
}

// telemetryConfig describes this process to OpenTelemetry.
func telemetryConfig(cfg *config.Config) observe.ProviderConfig {
	model := cfg.Provider.Model
	if cfg.Provider.Name == config.ProviderAzureOpenAI {
		model = cfg.Provider.Deployment
	}
	return observe.ProviderConfig{
		ServiceVersion: version,
		Provider:       cfg.Provider.Name,
		Model:          model,
		AudioBackend:   cfg.Audio.Backend,
	}
}

// newLogger creates a text [slog.Logger] on stderr at the given level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
