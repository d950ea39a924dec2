// Package app wires the parley subsystems into a running server.
//
// The App owns the full lifecycle: New assembles the HTTP surface around the
// injected providers, Run serves until the context is cancelled, and Shutdown
// drains sessions and stops the listener in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithMetrics, WithLevelVar, etc.).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ShutdownTimeout bounds the graceful shutdown started by Run.
const ShutdownTimeout = 15 * time.Second

// Providers holds one interface value per capability. Nil means the provider
// is not configured; readiness fails until all four are present. Populated by
// main.go via the config registry.
type Providers struct {
	VAD vad.Engine
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

func (p *Providers) missing() []string {
	var out []string
	if p.VAD == nil {
		out = append(out, "vad")
	}
	if p.STT == nil {
		out = append(out, "stt")
	}
	if p.LLM == nil {
		out = append(out, "llm")
	}
	if p.TTS == nil {
		out = append(out, "tts")
	}
	return out
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	watcher        *config.Watcher

	sessions *SessionManager
	health   *health.Handler
	handler  http.Handler

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	ready  chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink used by sessions and the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at telemetry.metrics_path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithWatcher runs w alongside the HTTP server in Run.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// New creates an App serving sessions with the given providers. It does not
// start listening; call Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if missing := providers.missing(); len(missing) > 0 {
		a.log.Warn("providers not configured; sessions will be refused", "missing", missing)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Providers:   a.voiceProviders(),
		Settings:    SessionSettings(cfg.Session),
		MaxSessions: cfg.Server.MaxSessions,
		Logger:      a.log,
		Metrics:     a.metrics,
	})
	a.health = health.New(health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if missing := a.providers.missing(); len(missing) > 0 {
				return fmt.Errorf("not configured: %v", missing)
			}
			return nil
		},
	})
	a.handler = a.routes()
	return a, nil
}

// SessionSettings converts the session block of the config.
func SessionSettings(c config.SessionConfig) voice.Settings {
	return voice.Settings{
		FrameSize:    c.FrameSize,
		SampleRate:   c.SampleRate,
		Language:     c.Language,
		SystemPrompt: c.SystemPrompt,
		HistoryTurns: c.HistoryTurns,
		Voice: tts.VoiceProfile{
			ID:          c.Voice.ID,
			SpeedFactor: c.Voice.SpeedFactor,
		},
		LLMTimeout: c.LLMTimeout,
	}
}

func (a *App) voiceProviders() voice.Providers {
	pc := a.cfg.Providers
	return voice.Providers{
		VAD: a.providers.VAD,
		STT: a.providers.STT,
		LLM: a.providers.LLM,
		TTS: a.providers.TTS,
		Names: voice.ProviderNames{
			VAD: pc.VAD.Name,
			STT: pc.STT.Name,
			LLM: pc.LLM.Name,
			TTS: pc.TTS.Name,
		},
	}
}

// routes builds the HTTP surface.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	audio := transport.NewHandler(a.admission(),
		transport.WithWriteTimeout(a.cfg.Server.WriteTimeout),
		transport.WithLogger(a.log),
	)
	mux.Handle("GET /audio", audio)
	a.health.Register(mux)
	mux.HandleFunc("GET /sessions", a.handleSessions)

	if a.cfg.Telemetry.MetricsEnabled() && a.metricsHandler != nil {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.metricsHandler)
	}
	if dir := a.cfg.Server.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
	}
	return observe.Middleware(a.metrics)(mux)
}

// admission refuses sessions while providers are missing.
func (a *App) admission() transport.Host {
	if missing := a.providers.missing(); len(missing) > 0 {
		return unavailableHost{err: fmt.Errorf("%w: providers not configured: %v", transport.ErrUnavailable, missing)}
	}
	return a.sessions
}

type unavailableHost struct{ err error }

func (h unavailableHost) Admit() (func(), error)                       { return nil, h.err }
func (h unavailableHost) Serve(context.Context, *transport.Conn) error { return h.err }

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	list := a.sessions.List()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Count    int           `json:"count"`
		Sessions []SessionInfo `json:"sessions"`
	}{Count: len(list), Sessions: list})
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the listen address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Ready is closed once the listener is bound.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Run listens on server.listen_addr and serves until ctx is cancelled, then
// shuts down gracefully within [ShutdownTimeout]. The config watcher, if any,
// runs alongside.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.server, a.addr = srv, ln.Addr()
	a.mu.Unlock()
	close(a.ready)
	a.log.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown marks the server draining, cancels all live sessions and waits
// for their teardown, then stops the HTTP server. Safe to call more than
// once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.sessions.Count())
		a.health.SetDraining(true)

		var errs []error
		if err := a.sessions.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)
		a.log.Info("shutdown complete", "err", a.stopErr)
	})
	return a.stopErr
}

// ApplyConfig applies a reloaded config. The log level and session settings
// take effect immediately (the latter for new sessions only); anything else
// is logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.sessions.SetSettings(SessionSettings(new.Session))
		a.log.Info("session settings updated for new sessions")
	}
	for _, key := range d.RestartRequired {
		a.log.Warn("config change requires restart", "key", key)
	}
}
