package stt

import "time"

// Transcript is one committed recognition result.
type Transcript struct {
	Text string

	// IsFinal is true for results the provider will not revise. Only finals
	// are delivered on SessionHandle.Finals.
	IsFinal bool

	// Confidence in [0.0, 1.0]; zero when the provider does not report one.
	Confidence float64

	// Duration is the length of the audio the transcript covers, if known.
	Duration time.Duration
}
