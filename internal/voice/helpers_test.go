package voice

import (
	"context"
	"io"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter returns the value of an Int64 sum data point, or 0 when nothing was
// recorded for it.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q: data is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}
	return 0
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, task *ReplyTask) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("task %s did not finish (state %s)", task.ID, task.State())
	}
}

// recordingOut is an Outbound that keeps every chunk and flags overlapping
// Send calls.
type recordingOut struct {
	mu     sync.Mutex
	chunks [][]byte

	inflight atomic.Int32
	overlap  atomic.Bool

	// onSend, if set, runs inside Send before the chunk is recorded.
	onSend func(chunk []byte) error
}

func (o *recordingOut) Send(_ context.Context, chunk []byte) error {
	if o.inflight.Add(1) > 1 {
		o.overlap.Store(true)
	}
	defer o.inflight.Add(-1)
	if o.onSend != nil {
		if err := o.onSend(chunk); err != nil {
			return err
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, append([]byte(nil), chunk...))
	return nil
}

func (o *recordingOut) Chunks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.chunks))
	for i, c := range o.chunks {
		out[i] = string(c)
	}
	return out
}

func (o *recordingOut) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chunks)
}

// chanIn is an Inbound fed from a channel. Closing ch ends the stream with
// err, or io.EOF when err is nil.
type chanIn struct {
	ch  chan []byte
	err error
}

func newChanIn() *chanIn { return &chanIn{ch: make(chan []byte, 16)} }

func (c *chanIn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c.ch:
		if !ok {
			if c.err != nil {
				return nil, c.err
			}
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// echoTTS yields the reply text split into n numbered chunks ("text#0", ...).
// With a gate, each chunk waits for a receive on it.
type echoTTS struct {
	n    int
	gate chan struct{}
}

func (e echoTTS) Synthesize(ctx context.Context, text string, _ tts.VoiceProfile) iter.Seq2[[]byte, error] {
	if text == "" {
		return tts.Empty
	}
	return func(yield func([]byte, error) bool) {
		for i := range e.n {
			if e.gate != nil {
				select {
				case <-e.gate:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !yield([]byte(text+"#"+strconv.Itoa(i)), nil) {
				return
			}
		}
	}
}

func silence(n int) []byte { return make([]byte, n) }

func speech(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x7f
	}
	return b
}

// stalledOut returns an Outbound whose first Send ignores cancellation and
// blocks until release is called, the way a socket write waits out its own
// write timeout. entered fires once that Send has started. Register release
// with t.Cleanup after the supervisor so it runs before Shutdown.
func stalledOut() (out *recordingOut, entered <-chan struct{}, release func()) {
	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32
	out = &recordingOut{onSend: func([]byte) error {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-unblock
		}
		return nil
	}}
	return out, started, func() { once.Do(func() { close(unblock) }) }
}

// within fails t unless fn returns inside d.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %v", what, d)
	}
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("Send was never called")
	}
}
