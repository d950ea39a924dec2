package resilience

import (
	"context"
	"iter"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that moves to the next backend only while
// no audio has been yielded. A reply that is already playing is never
// restarted in another voice.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) iter.Seq2[[]byte, error] {
	if text == "" {
		return tts.Empty
	}
	return ExecuteStream(f.FallbackGroup, func(p tts.Provider) iter.Seq2[[]byte, error] {
		return p.Synthesize(ctx, text, voice)
	})
}
