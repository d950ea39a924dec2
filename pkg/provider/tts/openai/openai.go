// Package openai provides a TTS provider backed by the OpenAI speech endpoint
// (POST /audio/speech).
//
// The response body is streamed: each read of up to ChunkSize bytes becomes
// one chunk, so playback can begin before synthesis has finished.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultChunkSize is the read size for the streamed response body.
	DefaultChunkSize = 4096

	defaultModel  = oai.SpeechModelTTS1
	defaultVoice  = "alloy"
	defaultFormat = "mp3"
)

var formats = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the speech model ("tts-1", "tts-1-hd", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithFormat sets the response format. See formats for accepted values.
func WithFormat(format string) Option {
	return func(p *Provider) { p.format = strings.ToLower(format) }
}

// WithChunkSize sets the maximum bytes per yielded chunk.
func WithChunkSize(n int) Option {
	return func(p *Provider) { p.chunkSize = n }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithBaseURL(url)) }
}

// WithHTTPClient replaces the SDK's HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithHTTPClient(hc)) }
}

// Provider implements tts.Provider.
type Provider struct {
	client    oai.Client
	model     string
	format    string
	chunkSize int
	reqOpts   []option.RequestOption
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{
		model:     defaultModel,
		format:    defaultFormat,
		chunkSize: DefaultChunkSize,
		reqOpts:   []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, o := range opts {
		o(p)
	}
	if p.chunkSize <= 0 {
		return nil, fmt.Errorf("openai tts: chunk size %d must be positive", p.chunkSize)
	}
	if !validFormat(p.format) {
		return nil, fmt.Errorf("openai tts: unsupported format %q; supported: %s", p.format, strings.Join(formats, ", "))
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

func validFormat(f string) bool {
	for _, v := range formats {
		if v == f {
			return true
		}
	}
	return false
}

// Format returns the configured audio encoding.
func (p *Provider) Format() string { return p.format }

// Synthesize implements tts.Provider. The HTTP request is made when
// iteration starts.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) iter.Seq2[[]byte, error] {
	if strings.TrimSpace(text) == "" {
		return tts.Empty
	}
	return func(yield func([]byte, error) bool) {
		resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, voice))
		if err != nil {
			yield(nil, fmt.Errorf("openai tts: speech request: %w", err))
			return
		}
		defer resp.Body.Close()

		buf := make([]byte, p.chunkSize)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if !yield(append([]byte(nil), buf[:n]...), nil) {
					return
				}
			}
			if errors.Is(rerr, io.EOF) {
				return
			}
			if rerr != nil {
				if ctx.Err() != nil {
					return
				}
				yield(nil, fmt.Errorf("openai tts: read audio: %w", rerr))
				return
			}
		}
	}
}

func (p *Provider) buildParams(text string, voice tts.VoiceProfile) oai.AudioSpeechNewParams {
	v := voice.ID
	if v == "" {
		v = defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}
	return params
}
