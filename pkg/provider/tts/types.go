package tts

// VoiceProfile selects a voice and its delivery.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier ("alloy", an ElevenLabs
	// voice ID).
	ID string

	Name string

	// Provider names the backend this voice belongs to. Informational.
	Provider string

	// SpeedFactor adjusts the speaking rate (0.25–4.0, 1.0 = default). Zero
	// means default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
