// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// A provider wraps a transcription service (a whisper.cpp server, Deepgram)
// behind a uniform streaming contract: StartStream opens a SessionHandle that
// accepts raw PCM of arbitrary chunk length and emits committed transcripts on
// a channel. Closing the handle asks the backend to transcribe whatever audio
// is still buffered as one last segment before the channel is closed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a stream.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz (16000 for the voice pipeline).
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Language is a BCP-47 tag ("en", "de-DE"). Empty lets the provider
	// auto-detect when it can.
	Language string
}

// SessionHandle is an open transcription stream.
//
// Callers must call Close when done. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers little-endian 16-bit PCM matching StreamConfig.
	// Chunks may be of any length. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Finals returns the channel of committed transcripts. It is closed after
	// Close has flushed the remaining audio.
	Finals() <-chan Transcript

	// Close flushes buffered audio as a final segment, delivers it on Finals,
	// releases resources and closes Finals. Subsequent calls return nil.
	Close() error
}

// Provider opens transcription streams.
type Provider interface {
	// StartStream opens a new session ready to accept audio. Fails if the
	// backend cannot be reached or ctx is already done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
