package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"whisper", "deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs", "edge"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout %v must not be negative", cfg.Server.WriteTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateEntry("vad", cfg.Providers.VAD)...)
	errs = append(errs, validateEntry("stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("tts", cfg.Providers.TTS)...)

	// Session
	s := cfg.Session
	if s.FrameSize <= 0 || s.FrameSize%2 != 0 {
		errs = append(errs, fmt.Errorf("session.frame_size %d must be a positive even number of bytes", s.FrameSize))
	}
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must be positive", s.SampleRate))
	}
	if s.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("session.history_turns %d must not be negative", s.HistoryTurns))
	}
	if s.LLMTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.llm_timeout %v must not be negative", s.LLMTimeout))
	}
	if s.Voice.SpeedFactor != 0 && (s.Voice.SpeedFactor < 0.5 || s.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.speed_factor %.2f is out of range [0.5, 2.0]", s.Voice.SpeedFactor))
	}

	return errors.Join(errs...)
}

// validateEntry checks a provider entry and its fallbacks. A missing primary
// name is only a warning: the server starts but reports not ready.
func validateEntry(kind string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks set without a primary name", kind))
		} else {
			slog.Warn("no provider configured; sessions cannot be served", "kind", kind)
		}
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			slog.Warn("nested fallbacks are ignored", "kind", kind, "name", fb.Name)
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
