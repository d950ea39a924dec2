package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ---- fake server ----

func results(text string, final bool) []byte {
	msg := map[string]any{
		"type":     "Results",
		"is_final": final,
		"duration": 1.5,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.93}},
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

// fakeDeepgram answers the first binary message with a final "hello" and the
// CloseStream message with a final "goodbye", then closes the socket.
type fakeDeepgram struct {
	*httptest.Server
	audioBytes atomic.Int64
	auth       atomic.Value
	query      atomic.Value
}

func newFakeDeepgram(t *testing.T) *fakeDeepgram {
	t.Helper()
	f := &fakeDeepgram{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth.Store(r.Header.Get("Authorization"))
		f.query.Store(r.URL.RawQuery)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		first := true
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.audioBytes.Add(int64(len(msg)))
				if first {
					first = false
					_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
					_ = c.Write(ctx, websocket.MessageText, results("hel", false))
					_ = c.Write(ctx, websocket.MessageText, results("hello", true))
				}
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				_ = c.Write(ctx, websocket.MessageText, results("goodbye", true))
				_ = c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// ---- URL ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	want := map[string]string{
		"model":           "nova-3",
		"language":        "en",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"interim_results": "false",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if u.Host != "api.deepgram.com" {
		t.Errorf("host = %q", u.Host)
	}
}

func TestBuildURL_ConfigOverrides(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("base"), WithLanguage("fr"))
	raw, _ := p.buildURL(stt.StreamConfig{SampleRate: 48000, Channels: 2, Language: "de-DE"})
	q, _ := url.ParseQuery(raw[strings.Index(raw, "?")+1:])

	if q.Get("model") != "base" {
		t.Errorf("model = %q", q.Get("model"))
	}
	if q.Get("language") != "de-DE" {
		t.Errorf("language = %q, want cfg value", q.Get("language"))
	}
	if q.Get("sample_rate") != "48000" || q.Get("channels") != "2" {
		t.Errorf("format = %s/%s", q.Get("sample_rate"), q.Get("channels"))
	}
}

// ---- parsing ----

func TestParseResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    []byte
		ok    bool
		text  string
		isFin bool
	}{
		{"final", results("hi there", true), true, "hi there", true},
		{"interim", results("hi", false), true, "hi", false},
		{"metadata", []byte(`{"type":"Metadata"}`), false, "", false},
		{"no alternatives", []byte(`{"type":"Results","channel":{"alternatives":[]}}`), false, "", false},
		{"invalid json", []byte(`{`), false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := parseResponse(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tr.Text != tt.text || tr.IsFinal != tt.isFin {
				t.Errorf("got %+v", tr)
			}
			if tr.Duration != 1500*time.Millisecond {
				t.Errorf("Duration = %v", tr.Duration)
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

// ---- streaming ----

func TestStream_FinalsAndCloseFlush(t *testing.T) {
	t.Parallel()
	srv := newFakeDeepgram(t)
	p, _ := New("secret", WithEndpoint(wsURL(srv.URL)), WithDrainTimeout(2*time.Second))

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := h.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != "hello" || !tr.IsFinal {
			t.Errorf("first final = %+v", tr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for live final")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var rest []string
	for tr := range h.Finals() {
		rest = append(rest, tr.Text)
	}
	if len(rest) != 1 || rest[0] != "goodbye" {
		t.Errorf("finals after Close = %v, want [goodbye]", rest)
	}

	if got := srv.auth.Load(); got != "Token secret" {
		t.Errorf("Authorization = %v", got)
	}
	if n := srv.audioBytes.Load(); n != 640 {
		t.Errorf("server received %d audio bytes, want 640", n)
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close: expected error")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("bad", WithEndpoint(wsURL(srv.URL)))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}
