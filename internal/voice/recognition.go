package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrRecognitionClosed is returned by [RecognitionFeed.Feed] after Close.
var ErrRecognitionClosed = errors.New("voice: recognition feed closed")

// closeTimeout bounds how long Close waits for the provider to flush and close
// its Finals channel.
var closeTimeout = 45 * time.Second

// RecognitionFeed wraps one streaming recognition session for the lifetime of
// a voice session. Feed and Poll are called from the ingest loop; Close
// releases the stream exactly once and collects the final flush.
type RecognitionFeed struct {
	handle stt.SessionHandle
	closed atomic.Bool

	closeOnce sync.Once
	flushed   []string
	closeErr  error
}

// OpenRecognitionFeed starts a recognition stream. A failure here is fatal to
// the session.
func OpenRecognitionFeed(ctx context.Context, p stt.Provider, cfg stt.StreamConfig) (*RecognitionFeed, error) {
	h, err := p.StartStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voice: open recognition: %w", err)
	}
	return &RecognitionFeed{handle: h}, nil
}

// Feed forwards a raw audio chunk. It may block while the provider applies
// backpressure.
func (f *RecognitionFeed) Feed(chunk []byte) error {
	if f.closed.Load() {
		return ErrRecognitionClosed
	}
	if err := f.handle.SendAudio(chunk); err != nil {
		return fmt.Errorf("voice: feed recognition: %w", err)
	}
	return nil
}

// Poll returns the next finalized transcript if one is ready. It never
// blocks and never returns the same segment twice.
func (f *RecognitionFeed) Poll() (string, bool) {
	if f.closed.Load() {
		return "", false
	}
	select {
	case t, ok := <-f.handle.Finals():
		if !ok {
			return "", false
		}
		text := strings.TrimSpace(t.Text)
		return text, text != ""
	default:
		return "", false
	}
}

// Close ends the stream so the provider transcribes any residual audio, and
// returns every transcript that arrived after the last Poll, the flush
// included. Subsequent calls return the same result without touching the
// provider again.
func (f *RecognitionFeed) Close() ([]string, error) {
	f.closeOnce.Do(func() {
		f.closed.Store(true)

		// Finals are delivered blocking, so drain while the provider flushes.
		// On timeout the drain stops too; a provider still holding segments
		// after that is no longer read from.
		finals := f.handle.Finals()
		drained := make(chan []string, 1)
		abandon := make(chan struct{})
		go func() {
			var texts []string
			for {
				select {
				case t, ok := <-finals:
					if !ok {
						drained <- texts
						return
					}
					if text := strings.TrimSpace(t.Text); text != "" {
						texts = append(texts, text)
					}
				case <-abandon:
					return
				}
			}
		}()

		if err := f.handle.Close(); err != nil {
			f.closeErr = fmt.Errorf("voice: close recognition: %w", err)
		}

		select {
		case f.flushed = <-drained:
		case <-time.After(closeTimeout):
			close(abandon)
			f.closeErr = errors.Join(f.closeErr, errors.New("voice: recognition flush timed out"))
		}
	})
	return f.flushed, f.closeErr
}
