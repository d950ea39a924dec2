package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// fakeServer reads the three text messages, then replies with the given
// audio payloads and a final marker.
type fakeServer struct {
	*httptest.Server

	mu    sync.Mutex
	path  string
	query url.Values
	msgs  []textMessage
}

func newFakeServer(t *testing.T, replies ...string) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path, f.query = r.URL.Path, r.URL.Query()
		f.mu.Unlock()

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		for range 3 {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			f.mu.Lock()
			f.msgs = append(f.msgs, m)
			f.mu.Unlock()
		}
		for _, r := range replies {
			b, _ := json.Marshal(audioMessage{Audio: base64.StdEncoding.EncodeToString([]byte(r))})
			if err := c.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		b, _ := json.Marshal(audioMessage{IsFinal: true})
		_ = c.Write(ctx, websocket.MessageText, b)
		_, _, _ = c.Read(ctx) // wait for the client close
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) wsURL() string { return "ws" + strings.TrimPrefix(f.URL, "http") }

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_16000"))
	u, err := url.Parse(p.streamURL("voice 1"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "api.elevenlabs.io" || u.EscapedPath() != "/v1/text-to-speech/voice%201/stream-input" {
		t.Errorf("url = %s", u)
	}
	if u.Query().Get("model_id") != "eleven_turbo_v2" || u.Query().Get("output_format") != "pcm_16000" {
		t.Errorf("query = %s", u.RawQuery)
	}
}

func TestSynthesize_StreamsAudio(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, "chunk-1", "chunk-2")
	p, _ := New("secret", WithEndpoint(srv.wsURL()))

	var got []string
	for chunk, err := range p.Synthesize(context.Background(), "Hello there", tts.VoiceProfile{ID: "v1", SpeedFactor: 1.1}) {
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		got = append(got, string(chunk))
	}
	if strings.Join(got, ",") != "chunk-1,chunk-2" {
		t.Errorf("chunks = %v", got)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.path != "/v1/text-to-speech/v1/stream-input" {
		t.Errorf("path = %q", srv.path)
	}
	if len(srv.msgs) != 3 {
		t.Fatalf("server got %d messages, want 3", len(srv.msgs))
	}
	boi := srv.msgs[0]
	if boi.XiAPIKey != "secret" || boi.VoiceSettings == nil || boi.VoiceSettings.Speed != 1.1 {
		t.Errorf("BOI = %+v", boi)
	}
	if srv.msgs[1].Text != "Hello there " || !srv.msgs[1].Flush {
		t.Errorf("text message = %+v", srv.msgs[1])
	}
	if srv.msgs[2].Text != "" {
		t.Errorf("EOS message = %+v", srv.msgs[2])
	}
}

func TestSynthesize_EmptyTextAndMissingVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithEndpoint("ws://127.0.0.1:1"))

	for range p.Synthesize(context.Background(), "", tts.VoiceProfile{ID: "v"}) {
		t.Error("empty text should yield nothing")
	}

	var errs int
	for _, err := range p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Errorf("missing voice: errors = %d, want 1", errs)
	}
}

func TestSynthesize_DialError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithDefaultVoice("v"))

	var errs int
	for _, err := range p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Errorf("errors = %d, want 1", errs)
	}
}
