// Package deepgram provides an STT provider on top of the Deepgram live
// streaming WebSocket API.
//
// Audio is forwarded as binary messages. Only results flagged is_final are
// delivered on Finals. Close sends {"type":"CloseStream"}, which makes Deepgram
// transcribe the audio it still holds, and then drains the remaining results
// until the server closes the socket or the drain timeout expires.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	defaultEndpoint     = "wss://api.deepgram.com/v1/listen"
	defaultModel        = "nova-3"
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultDrainTimeout = 10 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model ("nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language when StreamConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint. Tests point it at a local
// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithDrainTimeout bounds how long Close waits for trailing results.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Provider) { p.drainTimeout = d }
}

// Provider implements stt.Provider.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	language     string
	drainTimeout time.Duration
}

// New returns a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     defaultEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		drainTimeout: defaultDrainTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram. The session outlives ctx cancellation so that
// Close can still flush; ctx only bounds the dial.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:         conn,
		ctx:          sctx,
		cancel:       cancel,
		drainTimeout: p.drainTimeout,
		finals:       make(chan stt.Transcript, 64),
		audio:        make(chan []byte, 256),
		done:         make(chan struct{}),
		readDone:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ────────────────────────────────────────────────────────────────

type session struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	drainTimeout time.Duration

	finals chan stt.Transcript
	audio  chan []byte

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait() // writer has drained audio and sent CloseStream

		select {
		case <-s.readDone:
		case <-time.After(s.drainTimeout):
			slog.Warn("deepgram: drain timed out", "timeout", s.drainTimeout)
		}
		s.cancel()
		<-s.readDone
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				slog.Warn("deepgram: write audio", "err", err)
				return
			}
		case <-s.done:
			for drained := false; !drained; {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(s.ctx, websocket.MessageBinary, chunk)
				default:
					drained = true
				}
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
				slog.Debug("deepgram: send CloseStream", "err", err)
			}
			return
		}
	}
}

func (s *session) readLoop() {
	defer close(s.readDone)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && s.ctx.Err() == nil {
				slog.Debug("deepgram: read loop ended", "err", err)
			}
			return
		}
		t, ok := parseResponse(msg)
		if !ok || !t.IsFinal || strings.TrimSpace(t.Text) == "" {
			continue
		}
		select {
		case s.finals <- t:
		case <-s.ctx.Done():
			return
		}
	}
}

type response struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse decodes a Results message. Other message types (Metadata,
// SpeechStarted, UtteranceEnd) are ignored.
func parseResponse(data []byte) (stt.Transcript, bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}
