package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TaskState is the lifecycle state of a [ReplyTask].
type TaskState int32

const (
	TaskRunning TaskState = iota
	TaskCompleted
	TaskCancelled
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskCancelled:
		return "cancelled"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReplyTask turns one transcript into a language-model reply and streams the
// synthesized audio to the session's outbound channel. Only its [Supervisor]
// may cancel it.
type ReplyTask struct {
	ID         string
	Transcript string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state  atomic.Int32
	chunks atomic.Int64

	// Set before done is closed.
	reply string
	err   error
}

// State returns the current state.
func (t *ReplyTask) State() TaskState { return TaskState(t.state.Load()) }

// Done is closed when the task reaches a terminal state.
func (t *ReplyTask) Done() <-chan struct{} { return t.done }

// ChunksSent returns how many audio chunks reached the outbound channel.
func (t *ReplyTask) ChunksSent() int64 { return t.chunks.Load() }

// Reply returns the language-model text. Valid after Done.
func (t *ReplyTask) Reply() string {
	<-t.done
	return t.reply
}

// Err returns the failure cause of a [TaskFailed] task. Valid after Done.
func (t *ReplyTask) Err() error {
	<-t.done
	return t.err
}

// SupervisorConfig holds the dependencies of a [Supervisor].
type SupervisorConfig struct {
	LLM      llm.Provider
	TTS      tts.Provider
	Out      Outbound
	Settings Settings

	// Names label provider errors in metrics. Optional.
	Names ProviderNames

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Supervisor owns the reply tasks of one session. Outbound writes are
// serialised through one gate and a task checks its context inside the gate
// before every send, so sends from different tasks never overlap and a
// cancelled task never starts another one. Cancellation itself never waits
// for the gate: a send already in flight finishes on its own while the ingest
// loop keeps running.
type Supervisor struct {
	cfg     SupervisorConfig
	baseCtx context.Context
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	active  *ReplyTask
	history []llm.Message
	closed  bool

	// emitMu serialises outbound writes across tasks.
	emitMu sync.Mutex

	started atomic.Int64
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor whose tasks derive from ctx.
func NewSupervisor(ctx context.Context, cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Supervisor{
		cfg:     cfg,
		baseCtx: ctx,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// OnTranscript starts a reply task for text. A still-running task is
// cancelled first, so the newest utterance wins. Returns nil after Shutdown.
func (s *Supervisor) OnTranscript(text string) *ReplyTask {
	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &ReplyTask{
		ID:         uuid.NewString(),
		Transcript: text,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	prev := s.active
	s.active = t
	s.started.Add(1)
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		s.log.Debug("reply superseded by new transcript", "task_id", prev.ID)
	}
	go func() {
		defer s.wg.Done()
		s.run(t)
	}()
	return t
}

// Active returns the running task, or nil.
func (s *Supervisor) Active() *ReplyTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Started returns the number of tasks spawned so far.
func (s *Supervisor) Started() int64 { return s.started.Load() }

// CancelActive cancels the active task, clears the handle and returns the
// task, or nil if none was active. It does not block: a Send the task already
// has in flight may still complete, but the task starts no further sends.
func (s *Supervisor) CancelActive() *ReplyTask {
	s.mu.Lock()
	t := s.active
	s.active = nil
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	t.cancel()
	return t
}

// Shutdown cancels the active task, rejects new ones and waits for every
// task goroutine to finish, including any Send still in flight.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelActive()
	s.wg.Wait()
}

// emit sends chunk on behalf of t unless t has been cancelled.
func (s *Supervisor) emit(t *ReplyTask, chunk []byte) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if err := s.cfg.Out.Send(t.ctx, chunk); err != nil {
		return fmt.Errorf("voice: send audio: %w", err)
	}
	t.chunks.Add(1)
	s.metrics.AudioOutBytes.Add(t.ctx, int64(len(chunk)))
	return nil
}

// run executes t and records its terminal state.
func (s *Supervisor) run(t *ReplyTask) {
	start := time.Now()
	ctx, span := observe.StartSpan(t.ctx, "voice.reply",
		trace.WithAttributes(attribute.String("task_id", t.ID)))
	log := observe.WithTrace(ctx, s.log).With("task_id", t.ID)

	state, err := s.execute(ctx, t, log)

	s.mu.Lock()
	if s.active == t {
		s.active = nil
	}
	if state == TaskCompleted && s.cfg.Settings.HistoryTurns > 0 && t.reply != "" {
		s.history = append(s.history, llm.UserMessage(t.Transcript),
			llm.Message{Role: llm.RoleAssistant, Content: t.reply})
		if max := 2 * s.cfg.Settings.HistoryTurns; len(s.history) > max {
			s.history = append([]llm.Message(nil), s.history[len(s.history)-max:]...)
		}
	}
	s.mu.Unlock()

	t.err = err
	t.state.Store(int32(state))
	t.cancel()
	close(t.done)

	elapsed := time.Since(start)
	s.metrics.RecordReplyTask(ctx, state.String())
	s.metrics.ReplyDuration.Record(ctx, elapsed.Seconds())
	span.SetAttributes(attribute.String("state", state.String()), attribute.Int64("chunks", t.ChunksSent()))
	var spanErr error
	switch state {
	case TaskFailed:
		spanErr = err
		log.Error("reply failed", "err", err, "chunks_sent", t.ChunksSent())
	case TaskCancelled:
		log.Info("reply cancelled", "chunks_sent", t.ChunksSent(), "elapsed", elapsed)
	default:
		log.Info("reply completed", "chunks_sent", t.ChunksSent(), "elapsed", elapsed)
	}
	observe.EndSpan(span, spanErr)
}

// execute performs chat then synthesis. Cancellation wins over any error it
// may have caused.
func (s *Supervisor) execute(ctx context.Context, t *ReplyTask, log *slog.Logger) (TaskState, error) {
	outcome := func(err error) (TaskState, error) {
		if t.ctx.Err() != nil {
			return TaskCancelled, nil
		}
		if err != nil {
			return TaskFailed, err
		}
		return TaskCompleted, nil
	}

	text := strings.TrimSpace(t.Transcript)
	if text == "" {
		return outcome(nil)
	}

	reply, err := s.chat(ctx, text)
	if err != nil {
		if t.ctx.Err() == nil {
			s.metrics.RecordProviderError(ctx, "llm", s.cfg.Names.LLM)
		}
		return outcome(err)
	}
	t.reply = reply
	log.Debug("reply generated", "transcript", text, "reply_len", len(reply))
	if reply == "" {
		return outcome(nil)
	}

	synthStart := time.Now()
	for chunk, err := range s.cfg.TTS.Synthesize(ctx, reply, s.cfg.Settings.Voice) {
		if err != nil {
			if t.ctx.Err() == nil {
				s.metrics.RecordProviderError(ctx, "tts", s.cfg.Names.TTS)
			}
			return outcome(fmt.Errorf("voice: synthesize: %w", err))
		}
		if t.ChunksSent() == 0 {
			s.metrics.TTSFirstChunk.Record(ctx, time.Since(synthStart).Seconds())
		}
		if err := s.emit(t, chunk); err != nil {
			return outcome(err)
		}
	}
	return outcome(nil)
}

// chat calls the language model with the configured prompt and history.
func (s *Supervisor) chat(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	msgs := make([]llm.Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	s.mu.Unlock()
	msgs = append(msgs, llm.UserMessage(text))

	if timeout := s.cfg.Settings.LLMTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.cfg.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.cfg.Settings.SystemPrompt,
		Messages:     msgs,
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("voice: chat: %w", err)
	}
	if resp == nil {
		return "", errors.New("voice: chat: empty response")
	}
	return strings.TrimSpace(resp.Content), nil
}
