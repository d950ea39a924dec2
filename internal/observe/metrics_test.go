package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the Int64 sum data point matching attr (or the only point
// when attr is empty).
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q: data is %T, want Sum[int64]", name, met.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with attributes %v", name, attrs)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"parley.llm.duration", m.LLMDuration},
		{"parley.tts.first_chunk.duration", m.TTSFirstChunk},
		{"parley.reply.duration", m.ReplyDuration},
		{"parley.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("data is %T, want Histogram[float64]", met.Data)
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one point with count 2", hist.DataPoints)
			}
		})
	}
}

func TestRecordSessionEnd(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionsActive.Add(ctx, 1)
	m.SessionsActive.Add(ctx, 1)
	m.RecordSessionEnd(ctx, nil)
	m.RecordSessionEnd(ctx, errors.New("boom"))
	m.SessionsActive.Add(ctx, 1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "parley.sessions.active"); got != 1 {
		t.Errorf("sessions.active = %d, want 1", got)
	}
	if got := sumFor(t, rm, "parley.sessions.total", Attr("outcome", "ok")); got != 1 {
		t.Errorf("sessions.total{ok} = %d, want 1", got)
	}
	if got := sumFor(t, rm, "parley.sessions.total", Attr("outcome", "error")); got != 1 {
		t.Errorf("sessions.total{error} = %d, want 1", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, "live")
	m.RecordTranscript(ctx, "live")
	m.RecordTranscript(ctx, "flush")
	m.RecordReplyTask(ctx, "completed")
	m.RecordReplyTask(ctx, "cancelled")
	m.RecordReplyTask(ctx, "cancelled")
	m.RecordProviderError(ctx, "tts", "elevenlabs")
	m.BargeIns.Add(ctx, 2)
	m.FramesProcessed.Add(ctx, 10)
	m.SpeechFrames.Add(ctx, 4)
	m.AudioOutBytes.Add(ctx, 4096)

	rm := collect(t, reader)
	checks := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"parley.transcripts.final", []attribute.KeyValue{Attr("phase", "live")}, 2},
		{"parley.transcripts.final", []attribute.KeyValue{Attr("phase", "flush")}, 1},
		{"parley.reply_tasks", []attribute.KeyValue{Attr("state", "completed")}, 1},
		{"parley.reply_tasks", []attribute.KeyValue{Attr("state", "cancelled")}, 2},
		{"parley.provider.errors", []attribute.KeyValue{Attr("kind", "tts"), Attr("provider", "elevenlabs")}, 1},
		{"parley.barge_ins", nil, 2},
		{"parley.frames.processed", nil, 10},
		{"parley.vad.speech_frames", nil, 4},
		{"parley.audio.out.bytes", nil, 4096},
	}
	for _, c := range checks {
		if got := sumFor(t, rm, c.name, c.attrs...); got != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.attrs, got, c.want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics should return the same instance")
	}
}
