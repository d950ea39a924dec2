// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// whisper.cpp is a batch engine, so the provider simulates streaming: each
// session buffers incoming PCM, segments utterances with an energy-based
// silence detector and submits every completed utterance to the server's
// POST /inference endpoint. Each non-empty result is delivered as a final.
//
// Close submits whatever speech is still buffered as one last segment, bounded
// by a separate timeout so a cancelled caller context cannot lose it.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	// defaultSilenceRMS is the RMS level, in sample units, under which a chunk
	// counts as silence. 300 is near-silence for 16-bit audio.
	defaultSilenceRMS = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultSilence    = 500 * time.Millisecond
	defaultMaxSegment = 10 * time.Second
	defaultFlushLimit = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty uses whatever
// model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language when StreamConfig.Language is empty.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxSegment caps the audio length of one utterance; longer speech is
// split.
func WithMaxSegment(d time.Duration) Option {
	return func(p *Provider) { p.maxSegment = d }
}

// WithSilenceRMS overrides the silence energy threshold (sample units).
func WithSilenceRMS(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// WithFlushTimeout bounds the final inference performed by Close.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Provider) { p.flushTimeout = d }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider. Sessions are independent; each runs one
// goroutine that owns its buffer.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxSegment   time.Duration
	silenceRMS   float64
	flushTimeout time.Duration
	httpClient   *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		silence:      defaultSilence,
		maxSegment:   defaultMaxSegment,
		silenceRMS:   defaultSilenceRMS,
		flushTimeout: defaultFlushLimit,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider. No connection is made until the first
// utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = p.language
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	s := &session{
		p:       p,
		cfg:     cfg,
		audioCh: make(chan []byte, 256),
		finals:  make(chan stt.Transcript, 64),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s, nil
}

// ── session ────────────────────────────────────────────────────────────────

type session struct {
	p   *Provider
	cfg stt.StreamConfig

	audioCh chan []byte
	finals  chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// segmenter accumulates speech and decides when an utterance is complete.
// It is confined to the session loop.
type segmenter struct {
	buf       []byte
	hadSpeech bool
	silence   time.Duration
}

func (g *segmenter) take() []byte {
	pcm := g.buf
	if !g.hadSpeech {
		pcm = nil
	}
	*g = segmenter{}
	return pcm
}

func (s *session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	var seg segmenter
	maxBytes := int(s.p.maxSegment.Seconds() * float64(audio.BytesPerSecond(s.cfg.SampleRate, s.cfg.Channels)))

	flush := func(fctx context.Context) {
		if pcm := seg.take(); len(pcm) > 0 {
			s.transcribe(fctx, pcm)
		}
	}
	final := func() {
		fctx, cancel := context.WithTimeout(context.Background(), s.p.flushTimeout)
		defer cancel()
		// Audio queued before Close still belongs to the last segment.
		for drained := false; !drained; {
			select {
			case chunk := <-s.audioCh:
				seg.buf = append(seg.buf, chunk...)
				if audio.RMS(chunk) >= s.p.silenceRMS {
					seg.hadSpeech = true
				}
			default:
				drained = true
			}
		}
		flush(fctx)
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return
		case <-s.done:
			final()
			return
		case chunk := <-s.audioCh:
			d := audio.Duration(chunk, s.cfg.SampleRate, s.cfg.Channels)
			if audio.RMS(chunk) < s.p.silenceRMS {
				if !seg.hadSpeech {
					continue // leading silence
				}
				seg.silence += d
				seg.buf = append(seg.buf, chunk...)
				if seg.silence >= s.p.silence {
					flush(ctx)
				}
				continue
			}
			seg.hadSpeech = true
			seg.silence = 0
			seg.buf = append(seg.buf, chunk...)
			if maxBytes > 0 && len(seg.buf) >= maxBytes {
				flush(ctx)
			}
		}
	}
}

// transcribe runs inference and delivers a non-empty result. Errors are
// logged; the stream keeps going.
func (s *session) transcribe(ctx context.Context, pcm []byte) {
	start := time.Now()
	text, err := s.infer(ctx, pcm)
	if err != nil {
		slog.Warn("whisper: inference failed", "err", err, "audio", audio.Duration(pcm, s.cfg.SampleRate, s.cfg.Channels))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	slog.Debug("whisper: segment transcribed", "chars", len(text), "latency", time.Since(start))
	s.finals <- stt.Transcript{
		Text:     text,
		IsFinal:  true,
		Duration: audio.Duration(pcm, s.cfg.SampleRate, s.cfg.Channels),
	}
}

func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.cfg.SampleRate, s.cfg.Channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{
		"language":        s.cfg.Language,
		"model":           s.p.model,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return result.Text, nil
}
