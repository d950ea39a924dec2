// Package mock provides test doubles for the stt package interfaces.
//
// Session hands out FinalsCh from Finals. Tests push transcripts into it to
// simulate recognition results; Close optionally delivers FlushText as one
// last transcript and then closes the channel, mirroring real providers.
//
//	sess := mock.NewSession()
//	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, NewSession() is used.
	Session stt.SessionHandle

	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// FinalsCh is returned by Finals. Close closes it exactly once.
	FinalsCh chan stt.Transcript

	// FlushText, if non-empty, is sent on FinalsCh by the first Close call
	// before the channel is closed.
	FlushText string

	SendAudioErr error
	CloseErr     error

	// Chunks holds a copy of every chunk passed to SendAudio, in order.
	Chunks [][]byte

	// CloseCallCount counts every Close call; FlushCount counts the ones that
	// actually flushed (at most one).
	CloseCallCount int
	FlushCount     int

	closed bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered FinalsCh.
func NewSession() *Session {
	return &Session{FinalsCh: make(chan stt.Transcript, 16)}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// Close flushes FlushText on the first call, closes FinalsCh and returns
// CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	s.FlushCount++
	if s.FlushText != "" {
		s.FinalsCh <- stt.Transcript{Text: s.FlushText, IsFinal: true}
	}
	close(s.FinalsCh)
	return s.CloseErr
}

// BytesReceived returns the total number of audio bytes sent so far.
func (s *Session) BytesReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Chunks {
		n += len(c)
	}
	return n
}

// Flushes returns how many times Close actually flushed.
func (s *Session) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushCount
}
