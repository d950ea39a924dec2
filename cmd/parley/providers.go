package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/edge"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/parley/pkg/provider/tts/openai"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// newHTTPClient returns the client shared by HTTP-based providers. Outbound
// calls get a client span and propagate the trace context.
func newHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, hc *http.Client) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if th := optFloat(entry.Options, "threshold"); th > 0 {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "silence"); d > 0 {
			opts = append(opts, whisper.WithSilence(d))
		}
		if d := optDuration(entry.Options, "max_segment"); d > 0 {
			opts = append(opts, whisper.WithMaxSegment(d))
		}
		if rms := optFloat(entry.Options, "silence_rms"); rms > 0 {
			opts = append(opts, whisper.WithSilenceRMS(rms))
		}
		if d := optDuration(entry.Options, "flush_timeout"); d > 0 {
			opts = append(opts, whisper.WithFlushTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "drain_timeout"); d > 0 {
			opts = append(opts, deepgram.WithDrainTimeout(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oallm.Option{oallm.WithHTTPClient(hc)}
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share one pattern: optional APIKey + optional
	// BaseURL. ollama, llamacpp and llamafile are local servers and usually
	// only set BaseURL.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oatts.Option{oatts.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if format := optString(entry.Options, "format"); format != "" {
			opts = append(opts, oatts.WithFormat(format))
		}
		if n := optInt(entry.Options, "chunk_size"); n > 0 {
			opts = append(opts, oatts.WithChunkSize(n))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// edge needs no key. The voice comes from the session's profile, with
	// options.voice_id as the fallback.
	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, edge.WithDefaultVoice(voice))
		}
		if n := optInt(entry.Options, "chunk_size"); n > 0 {
			opts = append(opts, edge.WithChunkSize(n))
		}
		return edge.New(opts...)
	})

	for _, kind := range []string{"vad", "stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. Unknown names are
// logged and left nil, in which case the server reports not ready. Entries
// with fallbacks are wrapped in a circuit-breaking fallback group.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	fallbackCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("circuit breaker state change", "kind", kind, "breaker", name, "from", from, "to", to)
				},
			},
			OnFailover: func(provider string, err error) {
				metrics.RecordProviderError(ctx, kind, provider)
				slog.Warn("provider failed, trying fallback", "kind", kind, "name", provider, "err", err)
			},
		}
	}

	var err error
	if ps.VAD, err = create("vad", pc.VAD, reg.CreateVAD); err != nil {
		return nil, err
	}

	if ps.STT, err = create("stt", pc.STT, reg.CreateSTT); err != nil {
		return nil, err
	}
	if ps.STT != nil && len(pc.STT.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(ps.STT, pc.STT.Name, fallbackCfg("stt"))
		addFallbacks("stt", pc.STT.Fallbacks, reg.CreateSTT, fb.AddFallback)
		ps.STT = fb
	}

	if ps.LLM, err = create("llm", pc.LLM, reg.CreateLLM); err != nil {
		return nil, err
	}
	if ps.LLM != nil && len(pc.LLM.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(ps.LLM, pc.LLM.Name, fallbackCfg("llm"))
		addFallbacks("llm", pc.LLM.Fallbacks, reg.CreateLLM, fb.AddFallback)
		ps.LLM = fb
	}

	if ps.TTS, err = create("tts", pc.TTS, reg.CreateTTS); err != nil {
		return nil, err
	}
	if ps.TTS != nil && len(pc.TTS.Fallbacks) > 0 {
		fb := resilience.NewTTSFallback(ps.TTS, pc.TTS.Name, fallbackCfg("tts"))
		addFallbacks("tts", pc.TTS.Fallbacks, reg.CreateTTS, fb.AddFallback)
		ps.TTS = fb
	}

	return ps, nil
}

// create builds the provider for entry. An empty or unregistered name yields
// the zero value and a nil error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		slog.Warn("provider not configured", "kind", kind)
		return zero, nil
	}
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// addFallbacks creates each fallback entry and hands it to add. Entries that
// fail to build are skipped with a warning; the primary still serves.
func addFallbacks[T any](kind string, entries []config.ProviderEntry, factory func(config.ProviderEntry) (T, error), add func(string, T)) {
	for _, entry := range entries {
		p, err := factory(entry)
		if err != nil {
			slog.Warn("fallback provider skipped", "kind", kind, "name", entry.Name, "err", err)
			continue
		}
		add(entry.Name, p)
		slog.Info("fallback provider added", "kind", kind, "name", entry.Name)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts both YAML integers and floats.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a Go duration string such as "750ms". Invalid values
// read as zero so the provider default applies.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
