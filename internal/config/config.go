// Package config provides the configuration schema, loader, and provider registry
// for the realtalk streaming client.
package config

import (
	"time"

	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Provider and backend names understood by the default [Registry].
const (
	ProviderAzureOpenAI    = "azure-openai"
	ProviderOpenAIRealtime = "openai-realtime"

	BackendPortAudio = "portaudio"
	BackendFFmpeg    = "ffmpeg"
)

// Config is the root configuration structure for realtalk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderEntry  `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Response ResponseConfig `yaml:"response"`
	Audio    AudioConfig    `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and health server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the realtime service.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider ("azure-openai", "openai-realtime").
	Name string `yaml:"name"`

	// Endpoint is the service URL. For Azure this is the resource endpoint
	// (e.g., "https://my-resource.openai.azure.com"); for OpenAI it overrides
	// the default websocket URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the credential sent with the handshake.
	APIKey string `yaml:"api_key"`

	// Deployment is the Azure deployment name. Ignored for OpenAI.
	Deployment string `yaml:"deployment"`

	// APIVersion is the Azure api-version query parameter. Ignored for OpenAI.
	APIVersion string `yaml:"api_version"`

	// Model selects the OpenAI model. Ignored for Azure.
	Model string `yaml:"model"`
}

// SessionConfig is the negotiated session configuration sent with
// session.update, plus the overall duration bound.
type SessionConfig struct {
	Voice string `yaml:"voice"`

	// MaxResponseOutputTokens caps each response. Zero selects the default;
	// the service accepts no zero cap.
	MaxResponseOutputTokens int `yaml:"max_response_output_tokens"`

	InputAudioFormat string              `yaml:"input_audio_format"`
	TurnDetection    TurnDetectionConfig `yaml:"turn_detection"`

	// Transcription configures service-side transcription of the input
	// audio. Defaults to whisper-1 in English.
	Transcription *TranscriptionConfig `yaml:"transcription"`

	// MaxDuration bounds the capture stream (e.g., "500s").
	MaxDuration time.Duration `yaml:"max_duration"`
}

// TurnDetectionConfig configures the service's voice activity detection.
// The numeric fields are pointers so an explicit zero is kept; nil selects
// the default.
type TurnDetectionConfig struct {
	Type              string   `yaml:"type"`
	Threshold         *float64 `yaml:"threshold"`
	PrefixPaddingMs   *int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs *int     `yaml:"silence_duration_ms"`
}

// TranscriptionConfig configures input transcription.
type TranscriptionConfig struct {
	Disabled bool   `yaml:"disabled"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// ResponseConfig describes the response.create sent once streaming starts.
type ResponseConfig struct {
	Modalities   []string `yaml:"modalities"`
	Instructions string   `yaml:"instructions"`

	// RequestOnTurnEnd re-sends response.create whenever the service reports
	// the end of user speech.
	RequestOnTurnEnd bool `yaml:"request_on_turn_end"`
}

// AudioConfig selects the audio backend and stream formats.
type AudioConfig struct {
	// Backend names the registered audio device ("portaudio", "ffmpeg").
	Backend string `yaml:"backend"`

	// SampleRate and FrameSamples define the wire format (mono PCM16).
	SampleRate   int `yaml:"sample_rate"`
	FrameSamples int `yaml:"frame_samples"`

	// DeviceSampleRate and DeviceChannels describe the native device format.
	// Zero values mean the device is opened in the wire format.
	DeviceSampleRate int `yaml:"device_sample_rate"`
	DeviceChannels   int `yaml:"device_channels"`

	// SendInterval is the pause after each outbound frame.
	SendInterval time.Duration `yaml:"send_interval"`

	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
}

// FFmpegConfig configures the ffmpeg backend.
type FFmpegConfig struct {
	Path         string `yaml:"path"`
	InputFormat  string `yaml:"input_format"`
	InputDevice  string `yaml:"input_device"`
	OutputFormat string `yaml:"output_format"`
	OutputDevice string `yaml:"output_device"`
}

// WireFormat returns the format frames are sent and received in.
func (a AudioConfig) WireFormat() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: 1, FrameSamples: a.FrameSamples}
}

// DeviceFormat returns the format the device is opened in. Unset fields fall
// back to the wire format.
func (a AudioConfig) DeviceFormat() audio.Format {
	f := a.WireFormat()
	if a.DeviceSampleRate > 0 && a.SampleRate > 0 {
		f.SampleRate = a.DeviceSampleRate
		// Keep the frame duration constant across rates.
		f.FrameSamples = a.FrameSamples * a.DeviceSampleRate / a.SampleRate
	}
	if a.DeviceChannels > 0 {
		f.Channels = a.DeviceChannels
	}
	return f
}

// Realtime converts the session section into the wire configuration.
func (s SessionConfig) Realtime() realtime.SessionConfig {
	cfg := realtime.SessionConfig{
		MaxResponseOutputTokens: s.MaxResponseOutputTokens,
		Voice:                   s.Voice,
		InputAudioFormat:        s.InputAudioFormat,
		TurnDetection: realtime.TurnDetection{
			Type:              s.TurnDetection.Type,
			Threshold:         deref(s.TurnDetection.Threshold),
			PrefixPaddingMs:   deref(s.TurnDetection.PrefixPaddingMs),
			SilenceDurationMs: deref(s.TurnDetection.SilenceDurationMs),
		},
	}
	if s.Transcription != nil && !s.Transcription.Disabled {
		cfg.InputAudioTranscription = &realtime.Transcription{
			Model:    s.Transcription.Model,
			Language: s.Transcription.Language,
		}
	}
	return cfg
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
