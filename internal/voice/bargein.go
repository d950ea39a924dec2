package voice

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/observe"
)

// BargeIn turns voice-activity decisions into reply cancellation. A single
// speech-positive frame is enough; there is no debounce.
type BargeIn struct {
	sup     *Supervisor
	log     *slog.Logger
	metrics *observe.Metrics
	count   atomic.Int64
}

// NewBargeIn returns a controller cancelling tasks owned by sup.
func NewBargeIn(sup *Supervisor, log *slog.Logger, metrics *observe.Metrics) *BargeIn {
	return &BargeIn{sup: sup, log: log, metrics: metrics}
}

// OnVoiceActivity cancels the active reply task when isSpeech is true. It
// reports whether a task was cancelled. With no active task, or for a
// non-speech frame, it does nothing.
func (b *BargeIn) OnVoiceActivity(isSpeech bool) bool {
	if !isSpeech {
		return false
	}
	t := b.sup.CancelActive()
	if t == nil {
		return false
	}
	b.count.Add(1)
	b.metrics.BargeIns.Add(context.Background(), 1)
	b.log.Info("barge-in: reply interrupted", "task_id", t.ID, "chunks_sent", t.ChunksSent())
	return true
}

// Count returns how many replies this controller interrupted.
func (b *BargeIn) Count() int64 { return b.count.Load() }
