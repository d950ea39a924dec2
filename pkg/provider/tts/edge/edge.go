// Package edge provides a TTS provider backed by the Microsoft Edge read-aloud
// service. It needs no API key.
//
// The service returns the whole utterance as MP3. Synthesize runs the request
// on its own goroutine and yields the result in ChunkSize slices, so a caller
// that breaks out early or cancels ctx is not held until the service answers.
package edge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultChunkSize is the size of each yielded slice of audio.
	DefaultChunkSize = 4096

	// DefaultVoice is used when neither the profile nor WithDefaultVoice set one.
	DefaultVoice = "zh-CN-XiaoxiaoNeural"
)

// session is one connection to the service.
type session struct {
	output  func(text string) ([]byte, error)
	release func()
}

// dialFunc opens a session for voice.
type dialFunc func(voice string) (*session, error)

func dialEdge(voice string) (*session, error) {
	c, err := edge_tts.New(voice)
	if err != nil {
		return nil, err
	}
	return &session{
		output:  c.Output,
		release: func() { c.Close() },
	}, nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithDefaultVoice sets the voice used when the profile carries no ID.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithChunkSize sets the maximum bytes per yielded chunk.
func WithChunkSize(n int) Option {
	return func(p *Provider) { p.chunkSize = n }
}

// Provider implements tts.Provider.
type Provider struct {
	voice     string
	chunkSize int
	dial      dialFunc
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		voice:     DefaultVoice,
		chunkSize: DefaultChunkSize,
		dial:      dialEdge,
	}
	for _, o := range opts {
		o(p)
	}
	if p.chunkSize <= 0 {
		return nil, fmt.Errorf("edge tts: chunk size %d must be positive", p.chunkSize)
	}
	if strings.TrimSpace(p.voice) == "" {
		return nil, errors.New("edge tts: default voice must not be empty")
	}
	return p, nil
}

// Format returns the audio encoding produced by the service.
func (p *Provider) Format() string { return "mp3" }

type result struct {
	audio []byte
	err   error
}

// Synthesize implements tts.Provider. The connection is opened when iteration
// starts and released when the sequence ends, breaks or ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) iter.Seq2[[]byte, error] {
	if strings.TrimSpace(text) == "" {
		return tts.Empty
	}
	v := voice.ID
	if v == "" {
		v = p.voice
	}
	return func(yield func([]byte, error) bool) {
		if err := ctx.Err(); err != nil {
			return
		}
		s, err := p.dial(v)
		if err != nil {
			yield(nil, fmt.Errorf("edge tts: connect: %w", err))
			return
		}
		defer s.release()

		done := make(chan result, 1)
		go func() {
			audio, err := s.output(text)
			done <- result{audio: audio, err: err}
		}()

		var res result
		select {
		case res = <-done:
		case <-ctx.Done():
			return
		}
		if res.err != nil {
			yield(nil, fmt.Errorf("edge tts: synthesize: %w", res.err))
			return
		}

		for chunk := range slices.Chunk(res.audio, p.chunkSize) {
			if ctx.Err() != nil || !yield(chunk, nil) {
				return
			}
		}
	}
}
