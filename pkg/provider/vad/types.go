package vad

// VADEvent is the detection result for a single frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the speech likelihood in [0.0, 1.0].
	Probability float64
}

// IsSpeech reports whether the frame that produced e carried speech.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates detector states.
type VADEventType int

const (
	// VADSpeechStart marks the first speech frame after silence.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a speech frame inside an ongoing segment.
	VADSpeechContinue

	// VADSpeechEnd marks the first silent frame after speech.
	VADSpeechEnd

	// VADSilence marks a silent frame outside any segment.
	VADSilence
)

// String returns a short label used in logs.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
