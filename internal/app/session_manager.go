package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/voice"
)

// SessionInfo describes a live voice session.
type SessionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	StartedAt    time.Time `json:"started_at"`
	State        string    `json:"state"`
	TasksStarted int64     `json:"reply_tasks_started"`
	BargeIns     int64     `json:"reply_tasks_interrupted"`
}

type liveSession struct {
	sess   *voice.Session
	remote string
}

// SessionManager admits, runs and tracks voice sessions. It implements
// [transport.Host]. All exported methods are safe for concurrent use.
type SessionManager struct {
	providers voice.Providers
	settings  atomic.Pointer[voice.Settings]
	max       int
	log       *slog.Logger
	metrics   *observe.Metrics

	// stop cancels every running session.
	stopCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	live     map[string]liveSession
	reserved int
	draining bool
	wg       sync.WaitGroup
}

var _ transport.Host = (*SessionManager)(nil)

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Providers voice.Providers
	Settings  voice.Settings

	// MaxSessions caps concurrent sessions. 0 means unlimited.
	MaxSessions int

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		providers: cfg.Providers,
		max:       cfg.MaxSessions,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		stopCtx:   ctx,
		stop:      cancel,
		live:      make(map[string]liveSession),
	}
	sm.settings.Store(&cfg.Settings)
	return sm
}

// SetSettings replaces the settings used by sessions started from now on.
func (sm *SessionManager) SetSettings(s voice.Settings) {
	sm.settings.Store(&s)
}

// Settings returns the settings new sessions start with.
func (sm *SessionManager) Settings() voice.Settings {
	return *sm.settings.Load()
}

// Admit reserves a session slot.
func (sm *SessionManager) Admit() (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.draining {
		return nil, fmt.Errorf("%w: draining", transport.ErrUnavailable)
	}
	if sm.max > 0 && sm.reserved >= sm.max {
		return nil, fmt.Errorf("%w (limit %d)", transport.ErrTooManySessions, sm.max)
	}
	sm.reserved++
	sm.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			sm.reserved--
			sm.mu.Unlock()
			sm.wg.Done()
		})
	}, nil
}

// Serve runs a voice session on conn until the client leaves or the manager
// closes.
func (sm *SessionManager) Serve(ctx context.Context, conn *transport.Conn) error {
	id := uuid.NewString()
	log := sm.log.With("remote_addr", conn.RemoteAddr())
	sess := voice.NewSession(id, sm.providers, sm.Settings(),
		voice.WithLogger(log),
		voice.WithMetrics(sm.metrics),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(sm.stopCtx, cancel)
	defer unlink()

	sm.mu.Lock()
	sm.live[id] = liveSession{sess: sess, remote: conn.RemoteAddr()}
	sm.mu.Unlock()
	defer func() {
		sm.mu.Lock()
		delete(sm.live, id)
		sm.mu.Unlock()
	}()

	log.Info("session started", "session_id", id)
	return sess.Run(ctx, conn, conn)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.live)
}

// List returns the live sessions, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.live))
	for _, ls := range sm.live {
		st := ls.sess.Stats()
		out = append(out, SessionInfo{
			ID:           ls.sess.ID(),
			RemoteAddr:   ls.remote,
			StartedAt:    ls.sess.StartedAt(),
			State:        ls.sess.State().String(),
			TasksStarted: st.TasksStarted,
			BargeIns:     st.BargeIns,
		})
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Drain rejects new sessions. Live sessions keep running.
func (sm *SessionManager) Drain() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.draining = true
}

// CloseAll drains, cancels every live session and waits until each has gone
// through its teardown or ctx expires.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.Drain()
	sm.stop()

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: %d sessions still closing: %w", sm.Count(), ctx.Err())
	}
}
