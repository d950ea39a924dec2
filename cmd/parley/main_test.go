package main

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":  "de",
		"threshold": 0.02,
		"chunk":     4096,
		"ratio":     3,
		"silence":   "750ms",
		"broken":    "soon",
		"wrongtype": 12,
	}

	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString(language) = %q, want de", got)
	}
	if got := optString(opts, "wrongtype"); got != "" {
		t.Errorf("optString(wrongtype) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
	if got := optFloat(opts, "threshold"); got != 0.02 {
		t.Errorf("optFloat(threshold) = %v, want 0.02", got)
	}
	if got := optFloat(opts, "ratio"); got != 3 {
		t.Errorf("optFloat(ratio) = %v, want 3", got)
	}
	if got := optInt(opts, "chunk"); got != 4096 {
		t.Errorf("optInt(chunk) = %d, want 4096", got)
	}
	if got := optDuration(opts, "silence"); got != 750*time.Millisecond {
		t.Errorf("optDuration(silence) = %v, want 750ms", got)
	}
	if got := optDuration(opts, "broken"); got != 0 {
		t.Errorf("optDuration(broken) = %v, want 0", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, newHTTPClient())

	want := map[string][]string{
		"vad": {"energy"},
		"stt": {"whisper", "deepgram"},
		"llm": {"openai", "anthropic", "ollama"},
		"tts": {"openai", "elevenlabs", "edge"},
	}
	for kind, names := range want {
		got := reg.Names(kind)
		for _, name := range names {
			if !slices.Contains(got, name) {
				t.Errorf("kind %s: %q not registered (have %v)", kind, name, got)
			}
		}
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("no key") })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.VAD = config.ProviderEntry{Name: "mock"}
	cfg.Providers.STT = config.ProviderEntry{Name: "mock"}
	cfg.Providers.LLM = config.ProviderEntry{
		Name: "mock",
		Fallbacks: []config.ProviderEntry{
			{Name: "mock"},
			{Name: "broken"},
		},
	}
	cfg.Providers.TTS = config.ProviderEntry{Name: "unknown"}

	ps, err := buildProviders(context.Background(), cfg, mockRegistry(), testMetrics(t))
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.VAD == nil || ps.STT == nil {
		t.Errorf("VAD/STT not built: %+v", ps)
	}
	if _, ok := ps.STT.(*resilience.STTFallback); ok {
		t.Error("STT without fallbacks should not be wrapped")
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if ps.TTS != nil {
		t.Errorf("unregistered TTS should be nil, got %T", ps.TTS)
	}
}

func TestBuildProviders_PrimaryError(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "broken"}

	if _, err := buildProviders(context.Background(), cfg, mockRegistry(), testMetrics(t)); err == nil {
		t.Fatal("expected error for failing primary provider")
	}
}
