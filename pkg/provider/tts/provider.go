// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Synthesis is a pull sequence: Synthesize returns an iter.Seq2 that yields
// encoded audio chunks as the backend produces them. The sequence is lazy
// (nothing is requested until iteration starts), finite and single-use.
// Breaking out of the range loop, or cancelling ctx, releases the underlying
// connection. An element with a non-nil error ends the sequence.
//
//	for chunk, err := range p.Synthesize(ctx, "Hello there", voice) {
//	    if err != nil {
//	        return err
//	    }
//	    send(chunk)
//	}
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"iter"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns the audio for text as a sequence of chunks in the
	// provider's output encoding. Empty text yields an empty sequence.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) iter.Seq2[[]byte, error]
}

// Empty is a sequence with no elements.
func Empty(yield func([]byte, error) bool) {}

// Fail returns a sequence that yields err once.
func Fail(err error) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		yield(nil, err)
	}
}
