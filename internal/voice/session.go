package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrSessionClosed is returned by [Session.Run] when the session has already
// run.
var ErrSessionClosed = errors.New("voice: session closed")

// Inbound is the client-to-server half of a session's byte stream.
type Inbound interface {
	// Receive blocks for the next PCM chunk. It returns io.EOF when the
	// client closed the stream normally.
	Receive(ctx context.Context) ([]byte, error)
}

// Outbound is the server-to-client half of a session's byte stream.
type Outbound interface {
	// Send writes one encoded audio chunk.
	Send(ctx context.Context, chunk []byte) error
}

// ProviderNames labels the configured providers in logs and metrics.
type ProviderNames struct {
	VAD, STT, LLM, TTS string
}

// Providers are the capabilities a session borrows. They are built once at
// startup and shared by every session.
type Providers struct {
	VAD vad.Engine
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	Names ProviderNames
}

// Default session settings.
const (
	DefaultFrameSize    = 1024
	DefaultSampleRate   = 16000
	DefaultSystemPrompt = "You are a helpful assistant."
)

// Settings are the per-session tunables. A session keeps the settings it was
// created with even if the configuration is reloaded.
type Settings struct {
	// FrameSize is the VAD frame length in bytes.
	FrameSize  int
	SampleRate int
	// Language is passed to recognition as a hint. Empty auto-detects.
	Language     string
	SystemPrompt string
	// HistoryTurns keeps that many user/assistant exchanges as chat context.
	// Zero sends only the current transcript.
	HistoryTurns int
	Voice        tts.VoiceProfile
	// LLMTimeout bounds a single chat call. Zero means no extra bound.
	LLMTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.FrameSize <= 0 {
		s.FrameSize = DefaultFrameSize
	}
	if s.SampleRate <= 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	return s
}

// State is the lifecycle state of a [Session].
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a session's reply activity.
type Stats struct {
	TasksStarted int64
	BargeIns     int64
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the session logger. The session adds session_id.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the ingest loop of one connected audio stream.
type Session struct {
	id        string
	providers Providers
	settings  Settings
	log       *slog.Logger
	metrics   *observe.Metrics
	startedAt time.Time

	ran   atomic.Bool
	state atomic.Int32
	sup   atomic.Pointer[Supervisor]
	barge atomic.Pointer[BargeIn]
}

// NewSession creates a session in [StateConnecting]. Call Run to start it.
func NewSession(id string, p Providers, s Settings, opts ...Option) *Session {
	sess := &Session{
		id:        id,
		providers: p,
		settings:  s.withDefaults(),
		log:       slog.Default(),
		metrics:   observe.DefaultMetrics(),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(sess)
	}
	sess.log = sess.log.With("session_id", id)
	return sess
}

func (s *Session) ID() string           { return s.id }
func (s *Session) StartedAt() time.Time { return s.startedAt }
func (s *Session) Settings() Settings   { return s.settings }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Stats returns reply counters. Zero before Run.
func (s *Session) Stats() Stats {
	var st Stats
	if sup := s.sup.Load(); sup != nil {
		st.TasksStarted = sup.Started()
	}
	if b := s.barge.Load(); b != nil {
		st.BargeIns = b.Count()
	}
	return st
}

// Run drives the session until the client disconnects, inbound fails or ctx is
// cancelled, then tears it down: the active reply is cancelled and awaited,
// recognition is closed so buffered audio is flushed, and the state becomes
// [StateClosed]. A normal disconnect or ctx cancellation returns nil. Run may
// be called once.
func (s *Session) Run(ctx context.Context, in Inbound, out Outbound) (err error) {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}

	ctx, span := observe.StartSpan(ctx, "voice.session",
		trace.WithAttributes(attribute.String("session_id", s.id)))
	log := observe.WithTrace(ctx, s.log)
	s.metrics.SessionsActive.Add(ctx, 1)
	defer func() {
		s.state.Store(int32(StateClosed))
		s.metrics.RecordSessionEnd(ctx, err)
		observe.EndSpan(span, err)
		log.Info("session closed", "err", err)
	}()

	detector, err := s.providers.VAD.NewSession(vad.Config{
		SampleRate: s.settings.SampleRate,
		FrameBytes: s.settings.FrameSize,
	})
	if err != nil {
		return fmt.Errorf("voice: open vad: %w", err)
	}
	defer func() {
		if cerr := detector.Close(); cerr != nil {
			log.Warn("close vad", "err", cerr)
		}
	}()

	feed, err := OpenRecognitionFeed(ctx, s.providers.STT, stt.StreamConfig{
		SampleRate: s.settings.SampleRate,
		Channels:   1,
		Language:   s.settings.Language,
	})
	if err != nil {
		return err
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	sup := NewSupervisor(taskCtx, SupervisorConfig{
		LLM:      s.providers.LLM,
		TTS:      s.providers.TTS,
		Out:      out,
		Settings: s.settings,
		Names:    s.providers.Names,
		Logger:   log,
		Metrics:  s.metrics,
	})
	barge := NewBargeIn(sup, log, s.metrics)
	s.sup.Store(sup)
	s.barge.Store(barge)

	s.state.Store(int32(StateActive))
	log.Info("session active",
		"frame_size", s.settings.FrameSize,
		"sample_rate", s.settings.SampleRate)

	frames := NewFrameBuffer(s.settings.FrameSize)
	ing := ingest{s: s, log: log, detector: detector, feed: feed, frames: frames, barge: barge, sup: sup}
	err = ing.loop(ctx, in)

	s.state.Store(int32(StateClosing))
	sup.Shutdown()
	if n := frames.Buffered(); n > 0 {
		log.Debug("dropping partial frame", "bytes", n)
	}
	flushed, cerr := feed.Close()
	for _, text := range flushed {
		s.metrics.RecordTranscript(ctx, "flush")
		log.Info("final transcript flushed", "transcript", text)
	}
	if cerr != nil {
		log.Warn("close recognition", "err", cerr)
	}
	return err
}

// ingest holds the per-chunk state of the active loop.
type ingest struct {
	s        *Session
	log      *slog.Logger
	detector vad.SessionHandle
	feed     *RecognitionFeed
	frames   *FrameBuffer
	barge    *BargeIn
	sup      *Supervisor

	feedFailing bool
}

func (g *ingest) loop(ctx context.Context, in Inbound) error {
	for {
		chunk, err := in.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("voice: receive: %w", err)
			}
		}
		if len(chunk) == 0 {
			continue
		}
		g.handle(ctx, chunk)
	}
}

func (g *ingest) handle(ctx context.Context, chunk []byte) {
	m := g.s.metrics
	names := g.s.providers.Names

	if err := g.feed.Feed(chunk); err != nil {
		m.RecordProviderError(ctx, "stt", names.STT)
		if !g.feedFailing {
			g.log.Warn("recognition feed failed", "err", err)
		}
		g.feedFailing = true
	} else {
		g.feedFailing = false
	}

	for _, frame := range g.frames.Push(chunk) {
		ev, err := g.detector.ProcessFrame(frame)
		m.FramesProcessed.Add(ctx, 1)
		if err != nil {
			m.RecordProviderError(ctx, "vad", names.VAD)
			g.log.Warn("vad frame failed", "err", err)
			continue
		}
		if !ev.IsSpeech() {
			continue
		}
		m.SpeechFrames.Add(ctx, 1)
		g.barge.OnVoiceActivity(true)
	}

	if text, ok := g.feed.Poll(); ok {
		m.RecordTranscript(ctx, "live")
		g.log.Info("transcript", "text", text)
		g.sup.OnTranscript(text)
	}
}
