// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("a1"), []byte("a2")}}
//
// Setting Gate makes every chunk wait for a receive on Gate (or ctx
// cancellation) before it is yielded, so a test can hold a reply mid-stream.
package mock

import (
	"context"
	"iter"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are yielded in order for any non-empty text.
	Chunks [][]byte

	// Err, if non-nil, is yielded after Chunks.
	Err error

	// Gate, if non-nil, must be received from before each chunk is yielded.
	Gate chan struct{}

	SynthesizeCalls []SynthesizeCall

	yielded  int
	released int
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns the scripted sequence.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) iter.Seq2[[]byte, error] {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	chunks, serr, gate := p.Chunks, p.Err, p.Gate
	p.mu.Unlock()

	if text == "" {
		return tts.Empty
	}
	return func(yield func([]byte, error) bool) {
		defer func() {
			p.mu.Lock()
			p.released++
			p.mu.Unlock()
		}()
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			p.mu.Lock()
			p.yielded++
			p.mu.Unlock()
			if !yield(append([]byte(nil), c...), nil) {
				return
			}
		}
		if serr != nil {
			yield(nil, serr)
		}
	}
}

// Calls returns a snapshot of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Yielded returns the total number of chunks handed to consumers.
func (p *Provider) Yielded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.yielded
}

// Released returns how many sequences have finished, whether exhausted,
// abandoned by the consumer or cancelled.
func (p *Provider) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}
