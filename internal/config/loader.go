package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/realtalk/pkg/audio/portaudio"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultVoice             = "shimmer"
	DefaultMaxResponseTokens = 150
	DefaultInputAudioFormat  = "pcm16"
	DefaultTurnDetection     = "server_vad"
	DefaultVADThreshold      = 0.5
	DefaultPrefixPaddingMs   = 300
	DefaultSilenceDurationMs = 200
	DefaultTranscription     = "whisper-1"
	DefaultLanguage          = "en"
	DefaultMaxDuration       = 500 * time.Second
	DefaultSendInterval      = 100 * time.Millisecond

	// DefaultInstructions is sent with response.create when none are configured.
	DefaultInstructions = "You are an AI assistant who helps users come up with simple and open-ended " +
		"topics for an impromptu speech. Do not give suggestions on how they can talk about " +
		"the proposed topic. Please keep your answers short and simple."
)

// ValidProviderNames and ValidBackendNames list the names [Validate] accepts.
var (
	ValidProviderNames = []string{ProviderAzureOpenAI, ProviderOpenAIRealtime}
	ValidBackendNames  = []string{BackendPortAudio, BackendFFmpeg}
	validModalities    = []string{"text", "audio"}
)

// Load builds a validated [Config] from the YAML file at path (optional: an
// empty path starts from an empty config), then the process environment,
// then defaults. Call [LoadDotEnv] first to seed the environment from .env
// files.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from each existing file in paths into the
// process environment. Variables that are already set win. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with environment variables read through lookup.
// Malformed numeric or duration values are reported as a joined error.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	// Provider selection: an explicit name wins, otherwise the credentials
	// present decide.
	str("REALTALK_PROVIDER", &cfg.Provider.Name)
	if cfg.Provider.Name == "" {
		_, azure := lookup("AZURE_OPENAI_ENDPOINT")
		_, openai := lookup("OPENAI_API_KEY")
		if !azure && openai {
			cfg.Provider.Name = ProviderOpenAIRealtime
		}
	}
	if cfg.Provider.Name == ProviderOpenAIRealtime {
		str("OPENAI_API_KEY", &cfg.Provider.APIKey)
		str("OPENAI_REALTIME_URL", &cfg.Provider.Endpoint)
	} else {
		str("AZURE_OPENAI_KEY", &cfg.Provider.APIKey)
		str("AZURE_OPENAI_ENDPOINT", &cfg.Provider.Endpoint)
		str("AZURE_OPENAI_DEPLOYMENT", &cfg.Provider.Deployment)
		str("AZURE_OPENAI_API_VERSION", &cfg.Provider.APIVersion)
	}
	str("REALTALK_MODEL", &cfg.Provider.Model)

	str("REALTALK_VOICE", &cfg.Session.Voice)
	integer("REALTALK_MAX_TOKENS", &cfg.Session.MaxResponseOutputTokens)
	td := &cfg.Session.TurnDetection
	if v, ok := lookup("REALTALK_VAD_THRESHOLD"); ok && v != "" {
		td.Threshold = new(float64)
		float("REALTALK_VAD_THRESHOLD", td.Threshold)
	}
	if v, ok := lookup("REALTALK_VAD_PREFIX_PADDING_MS"); ok && v != "" {
		td.PrefixPaddingMs = new(int)
		integer("REALTALK_VAD_PREFIX_PADDING_MS", td.PrefixPaddingMs)
	}
	if v, ok := lookup("REALTALK_VAD_SILENCE_MS"); ok && v != "" {
		td.SilenceDurationMs = new(int)
		integer("REALTALK_VAD_SILENCE_MS", td.SilenceDurationMs)
	}
	transcription := func() *TranscriptionConfig {
		if cfg.Session.Transcription == nil {
			cfg.Session.Transcription = &TranscriptionConfig{Model: DefaultTranscription, Language: DefaultLanguage}
		}
		return cfg.Session.Transcription
	}
	if v, ok := lookup("REALTALK_TRANSCRIPTION_MODEL"); ok && v != "" {
		transcription().Model = v
	}
	if v, ok := lookup("REALTALK_TRANSCRIPTION_LANGUAGE"); ok && v != "" {
		transcription().Language = v
	}
	duration("REALTALK_MAX_DURATION", &cfg.Session.MaxDuration)

	str("REALTALK_INSTRUCTIONS", &cfg.Response.Instructions)
	boolean("REALTALK_REQUEST_ON_TURN_END", &cfg.Response.RequestOnTurnEnd)

	str("REALTALK_AUDIO_BACKEND", &cfg.Audio.Backend)
	integer("REALTALK_DEVICE_SAMPLE_RATE", &cfg.Audio.DeviceSampleRate)
	integer("REALTALK_DEVICE_CHANNELS", &cfg.Audio.DeviceChannels)
	duration("REALTALK_SEND_INTERVAL", &cfg.Audio.SendInterval)
	str("REALTALK_FFMPEG_PATH", &cfg.Audio.FFmpeg.Path)

	var level string
	str("REALTALK_LOG_LEVEL", &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(level)
	}
	str("REALTALK_LISTEN_ADDR", &cfg.Server.ListenAddr)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// DefaultBackend returns portaudio when it is compiled in, and ffmpeg
// otherwise.
func DefaultBackend() string {
	if portaudio.Available {
		return BackendPortAudio
	}
	return BackendFFmpeg
}

func ptr[T any](v T) *T { return &v }

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderAzureOpenAI
	}

	s := &cfg.Session
	if s.Voice == "" {
		s.Voice = DefaultVoice
	}
	if s.MaxResponseOutputTokens == 0 {
		s.MaxResponseOutputTokens = DefaultMaxResponseTokens
	}
	if s.InputAudioFormat == "" {
		s.InputAudioFormat = DefaultInputAudioFormat
	}
	if s.TurnDetection.Type == "" {
		s.TurnDetection.Type = DefaultTurnDetection
	}
	if s.TurnDetection.Threshold == nil {
		s.TurnDetection.Threshold = ptr(DefaultVADThreshold)
	}
	if s.TurnDetection.PrefixPaddingMs == nil {
		s.TurnDetection.PrefixPaddingMs = ptr(DefaultPrefixPaddingMs)
	}
	if s.TurnDetection.SilenceDurationMs == nil {
		s.TurnDetection.SilenceDurationMs = ptr(DefaultSilenceDurationMs)
	}
	if s.Transcription == nil {
		s.Transcription = &TranscriptionConfig{Model: DefaultTranscription, Language: DefaultLanguage}
	}
	if s.MaxDuration == 0 {
		s.MaxDuration = DefaultMaxDuration
	}

	if len(cfg.Response.Modalities) == 0 {
		cfg.Response.Modalities = []string{"text"}
	}
	if cfg.Response.Instructions == "" {
		cfg.Response.Instructions = DefaultInstructions
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = DefaultBackend()
	}
	if a.SampleRate == 0 {
		a.SampleRate = 24000
	}
	if a.FrameSamples == 0 {
		a.FrameSamples = 2400
	}
	if a.SendInterval == 0 {
		a.SendInterval = DefaultSendInterval
	}
	if a.FFmpeg.Path == "" {
		a.FFmpeg.Path = "ffmpeg"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	p := cfg.Provider
	if !slices.Contains(ValidProviderNames, p.Name) {
		errs = append(errs, fmt.Errorf("provider.name %q is invalid; valid values: %v", p.Name, ValidProviderNames))
	}
	if p.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required (or set AZURE_OPENAI_KEY / OPENAI_API_KEY)"))
	}
	if p.Name == ProviderAzureOpenAI && p.Endpoint == "" {
		errs = append(errs, errors.New("provider.endpoint is required for azure-openai (or set AZURE_OPENAI_ENDPOINT)"))
	}

	// Session
	s := cfg.Session
	if s.Voice == "" {
		errs = append(errs, errors.New("session.voice is required"))
	}
	if s.MaxResponseOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_response_output_tokens %d must be positive", s.MaxResponseOutputTokens))
	}
	if s.InputAudioFormat != DefaultInputAudioFormat {
		errs = append(errs, fmt.Errorf("session.input_audio_format %q is unsupported; only pcm16 is streamed", s.InputAudioFormat))
	}
	if v := deref(s.TurnDetection.Threshold); v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("session.turn_detection.threshold %.2f is out of range [0, 1]", v))
	}
	if v := deref(s.TurnDetection.PrefixPaddingMs); v < 0 {
		errs = append(errs, fmt.Errorf("session.turn_detection.prefix_padding_ms %d must not be negative", v))
	}
	if v := deref(s.TurnDetection.SilenceDurationMs); v < 0 {
		errs = append(errs, fmt.Errorf("session.turn_detection.silence_duration_ms %d must not be negative", v))
	}
	if s.Transcription != nil && !s.Transcription.Disabled && s.Transcription.Model == "" {
		errs = append(errs, errors.New("session.transcription.model is required when transcription is set"))
	}
	if s.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("session.max_duration %s must not be negative", s.MaxDuration))
	}

	// Response
	if len(cfg.Response.Modalities) == 0 {
		errs = append(errs, errors.New("response.modalities must not be empty"))
	}
	for i, m := range cfg.Response.Modalities {
		if !slices.Contains(validModalities, m) {
			errs = append(errs, fmt.Errorf("response.modalities[%d] %q is invalid; valid values: %v", i, m, validModalities))
		}
	}

	// Audio
	a := cfg.Audio
	if !slices.Contains(ValidBackendNames, a.Backend) {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: %v", a.Backend, ValidBackendNames))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", a.FrameSamples))
	}
	if a.DeviceSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate %d must not be negative", a.DeviceSampleRate))
	}
	if a.DeviceChannels < 0 || a.DeviceChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.device_channels %d is invalid; valid values: 1, 2", a.DeviceChannels))
	}
	if a.SendInterval < 0 {
		errs = append(errs, fmt.Errorf("audio.send_interval %s must not be negative", a.SendInterval))
	}

	return errors.Join(errs...)
}
