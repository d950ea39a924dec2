// Package elevenlabs provides a TTS provider on the ElevenLabs stream-input
// WebSocket API.
//
// Each Synthesize call opens one socket, sends the begin-of-input message
// carrying credentials and voice settings, the text, and an empty
// end-of-input message, then yields base64-decoded audio until the server
// marks the stream final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio format ("mp3_44100_128", "pcm_16000", ...).
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithEndpoint overrides the WebSocket base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithDefaultVoice sets the voice used when VoiceProfile.ID is empty.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.defaultVoice = id }
}

// Provider implements tts.Provider.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	outputFormat string
	defaultVoice string
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     defaultEndpoint,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.endpoint, url.PathEscape(voiceID), q.Encode())
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) iter.Seq2[[]byte, error] {
	if strings.TrimSpace(text) == "" {
		return tts.Empty
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return tts.Fail(errors.New("elevenlabs: voice ID must not be empty"))
	}

	return func(yield func([]byte, error) bool) {
		conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
		if err != nil {
			yield(nil, fmt.Errorf("elevenlabs: dial: %w", err))
			return
		}
		defer conn.CloseNow()

		vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
		if voice.SpeedFactor > 0 {
			vs.Speed = voice.SpeedFactor
		}
		msgs := []textMessage{
			{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
			{Text: text + " ", Flush: true},
			{Text: ""},
		}
		for _, m := range msgs {
			b, _ := json.Marshal(m)
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				yield(nil, fmt.Errorf("elevenlabs: send text: %w", err))
				return
			}
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
					return
				}
				yield(nil, fmt.Errorf("elevenlabs: read: %w", err))
				return
			}
			var msg audioMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Error != "" {
				yield(nil, fmt.Errorf("elevenlabs: server error: %s: %s", msg.Error, msg.Message))
				return
			}
			if msg.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					yield(nil, fmt.Errorf("elevenlabs: decode audio: %w", err))
					return
				}
				if !yield(chunk, nil) {
					return
				}
			}
			if msg.IsFinal {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
		}
	}
}
