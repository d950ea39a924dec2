// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the parley voice server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the parley server.
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

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8000"
	DefaultWriteTimeout = 5 * time.Second
	DefaultFrameSize    = 1024
	DefaultSampleRate   = 16000
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultLLMTimeout   = 30 * time.Second
	DefaultMetricsPath  = "/metrics"
	DefaultServiceName  = "parley"
)

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir, when set, is served at / as the browser client.
	StaticDir string `yaml:"static_dir"`

	// MaxSessions caps concurrent voice sessions. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// WriteTimeout bounds each outbound audio write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation for each capability. Each
// entry's Name is looked up in the [Registry] once at startup.
type ProvidersConfig struct {
	VAD ProviderEntry `yaml:"vad"`
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Each entry is
	// guarded by its own circuit breaker. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// SessionConfig holds per-session settings. Live sessions keep the values
// they started with; a reload affects new sessions only.
type SessionConfig struct {
	// FrameSize is the voice-activity frame length in bytes. Must be even.
	FrameSize int `yaml:"frame_size"`

	// SampleRate of the inbound 16-bit mono PCM.
	SampleRate int `yaml:"sample_rate"`

	// Language is a recognition hint (BCP-47). Empty lets the provider decide.
	Language string `yaml:"language"`

	// SystemPrompt is sent with every language-model call.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns keeps that many previous user/assistant exchanges in the
	// chat request. 0 sends only the current transcript.
	HistoryTurns int `yaml:"history_turns"`

	// Voice configures the synthesis voice.
	Voice VoiceConfig `yaml:"voice"`

	// LLMTimeout bounds a single language-model call.
	LLMTimeout time.Duration `yaml:"llm_timeout"`
}

// VoiceConfig specifies the synthesis voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 or 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	// MetricsPath is where the Prometheus handler is mounted. Set to "-" to disable.
	MetricsPath string `yaml:"metrics_path"`

	// ServiceName is reported as the OpenTelemetry service.name resource.
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Session.FrameSize == 0 {
		cfg.Session.FrameSize = DefaultFrameSize
	}
	if cfg.Session.SampleRate == 0 {
		cfg.Session.SampleRate = DefaultSampleRate
	}
	if cfg.Session.SystemPrompt == "" {
		cfg.Session.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Session.LLMTimeout == 0 {
		cfg.Session.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// MetricsEnabled reports whether the Prometheus endpoint should be mounted.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.MetricsPath != "" && t.MetricsPath != "-"
}
