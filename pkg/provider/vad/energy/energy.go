// Package energy provides a dependency-free voice activity detector that
// classifies frames by their RMS energy.
//
// The detector reports the normalised RMS (fraction of 16-bit full scale) as
// the event probability. A frame is speech when that value reaches the
// session's SpeechThreshold. It is far less robust than a neural model but
// needs no weights, which makes it a sensible default for development and
// for quiet, close-talk microphones.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// DefaultThreshold is the normalised RMS at which a frame counts as speech.
// 0.01 of full scale is roughly 330 in sample units.
const DefaultThreshold = 0.01

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides DefaultThreshold for sessions whose Config leaves
// SpeechThreshold at zero.
func WithThreshold(th float64) Option {
	return func(e *Engine) {
		e.threshold = th
	}
}

// Engine implements vad.Engine.
type Engine struct {
	threshold float64
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine with the given options applied.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{threshold: DefaultThreshold}
	for _, o := range opts {
		o(e)
	}
	if e.threshold <= 0 || e.threshold > 1 {
		return nil, fmt.Errorf("energy: threshold %.4f out of range (0, 1]", e.threshold)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.FrameBytes <= 0 || cfg.FrameBytes%2 != 0 {
		return nil, fmt.Errorf("energy: frame size %d must be a positive even number of bytes", cfg.FrameBytes)
	}
	th := cfg.SpeechThreshold
	if th == 0 {
		th = e.threshold
	}
	if th < 0 || th > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.4f out of range [0, 1]", th)
	}
	return &session{frameBytes: cfg.FrameBytes, threshold: th}, nil
}

var errClosed = errors.New("energy: session closed")

type session struct {
	frameBytes int
	threshold  float64

	mu       sync.Mutex
	speaking bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: got %d bytes, want %d: %w", len(frame), s.frameBytes, vad.ErrFrameSize)
	}

	p := audio.NormalizedRMS(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errClosed
	}

	ev := vad.VADEvent{Probability: p}
	switch speech := p >= s.threshold; {
	case speech && !s.speaking:
		ev.Type = vad.VADSpeechStart
	case speech:
		ev.Type = vad.VADSpeechContinue
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	s.speaking = ev.IsSpeech()
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
