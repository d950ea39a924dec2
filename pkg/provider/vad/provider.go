// Package vad defines the Engine interface for voice activity detection.
//
// An engine hands out one stateful SessionHandle per audio stream. Each
// session inspects fixed-size PCM frames and reports whether the frame
// carries speech. Sessions keep their own smoothing state, so concurrent
// streams never share detector history.
//
// ProcessFrame is synchronous and must return quickly: the caller runs it
// inline in the ingest loop of a voice session.
package vad

import "errors"

// ErrFrameSize is returned by ProcessFrame when the supplied frame does not
// match the size agreed in Config.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// Config holds the parameters of a detector session.
type Config struct {
	// SampleRate is the PCM sample rate in Hz (e.g. 16000).
	SampleRate int

	// FrameBytes is the exact byte length of every frame passed to
	// ProcessFrame. 16-bit mono PCM at 16 kHz with 512 samples is 1024 bytes.
	FrameBytes int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech. Range [0.0, 1.0]. Zero selects the engine default.
	SpeechThreshold float64
}

// SessionHandle is a detector bound to one audio stream. It is not safe for
// concurrent use; a voice session drives it from a single goroutine.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian 16-bit PCM. Returns
	// ErrFrameSize (wrapped) if len(frame) differs from Config.FrameBytes.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears speaking state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine creates detector sessions. Implementations must be safe for
// concurrent calls to NewSession.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
