// Package mock provides test doubles for the vad package interfaces.
//
// Session answers every frame with EventResult unless EventFunc is set, in
// which case EventFunc decides per frame. Tests that drive a voice session
// usually script speech with EventFunc, e.g. treating any non-zero frame as
// speech:
//
//	sess := &mock.Session{EventFunc: mock.SpeechIfNonZero}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh Session is returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a snapshot of the recorded NewSession calls.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NewSessionCall(nil), e.NewSessionCalls...)
}

// SpeechIfNonZero is an EventFunc that reports speech for any frame holding a
// non-zero byte and silence otherwise.
func SpeechIfNonZero(frame []byte) (vad.VADEvent, error) {
	for _, b := range frame {
		if b != 0 {
			return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}, nil
		}
	}
	return vad.VADEvent{Type: vad.VADSilence}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventResult is returned by ProcessFrame when EventFunc is nil.
	EventResult vad.VADEvent

	// EventFunc, if set, computes the result of each ProcessFrame call.
	EventFunc func(frame []byte) (vad.VADEvent, error)

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call and
	// takes precedence over EventFunc.
	ProcessFrameErr error

	CloseErr error

	// Frames holds a copy of every frame passed to ProcessFrame, in order.
	Frames [][]byte

	ResetCallCount int
	CloseCallCount int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame records the frame and returns the scripted result.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if s.EventFunc != nil {
		return s.EventFunc(frame)
	}
	return s.EventResult, nil
}

// FrameCount returns the number of frames processed so far.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close increments CloseCallCount and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}
