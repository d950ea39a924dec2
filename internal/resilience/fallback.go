package resilience

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnFailover, if set, is called whenever an entry fails and the group
	// moves on to the next one.
	OnFailover func(provider string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of one provider type.
// Entries are tried in registration order; entries with an open breaker are
// skipped.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. It must not be called concurrently with
// Execute.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker guarding the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Execute runs fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// failed logs a skipped or failed entry and fires OnFailover.
func (fg *FallbackGroup[T]) failed(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping provider, circuit open", "provider", name)
		return
	}
	slog.Warn("provider failed, trying next", "provider", name, "err", err)
	if fg.cfg.OnFailover != nil {
		fg.cfg.OnFailover(name, err)
	}
}

// ExecuteWithResult runs fn against each entry until one succeeds and returns
// its result. Cancellation stops the walk and is returned unwrapped.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
		fg.failed(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// ExecuteStream returns a sequence that pulls from the first entry able to
// produce an element. An entry whose sequence fails before its first element
// is recorded as a failure and the next entry is tried. Once an element has
// been yielded the entry is committed: a later error ends the sequence
// without failover, because the consumer has already received partial
// output.
func ExecuteStream[T any, V any](fg *FallbackGroup[T], fn func(T) iter.Seq2[V, error]) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		var lastErr error
		for i := range fg.entries {
			entry := &fg.entries[i]
			probe, err := entry.breaker.allow()
			if err != nil {
				lastErr = err
				fg.failed(entry.name, err)
				continue
			}

			started := false
			var streamErr error
			stopped := false
			for v, err := range fn(entry.value) {
				if err != nil {
					streamErr = err
					break
				}
				if !started {
					started = true
					entry.breaker.record(probe, nil)
				}
				if !yield(v, nil) {
					stopped = true
					break
				}
			}

			switch {
			case stopped:
				return
			case started:
				if streamErr != nil {
					var zero V
					yield(zero, streamErr)
				}
				return
			case streamErr == nil:
				// Empty sequence: a valid answer.
				entry.breaker.record(probe, nil)
				return
			}

			entry.breaker.record(probe, streamErr)
			if errors.Is(streamErr, context.Canceled) {
				var zero V
				yield(zero, streamErr)
				return
			}
			lastErr = streamErr
			fg.failed(entry.name, streamErr)
		}
		var zero V
		yield(zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr))
	}
}
