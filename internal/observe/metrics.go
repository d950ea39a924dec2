// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping by [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Sessions ---

	// SessionsActive tracks live voice sessions.
	SessionsActive metric.Int64UpDownCounter

	// SessionsTotal counts finished sessions. Attribute: outcome=ok|error.
	SessionsTotal metric.Int64Counter

	// --- Ingest ---

	// FramesProcessed counts frames run through voice-activity detection.
	FramesProcessed metric.Int64Counter

	// SpeechFrames counts frames classified as speech.
	SpeechFrames metric.Int64Counter

	// TranscriptsFinal counts finalized transcripts. Attribute: phase=live|flush.
	TranscriptsFinal metric.Int64Counter

	// --- Replies ---

	// ReplyTasks counts reply tasks by terminal state. Attribute:
	// state=completed|cancelled|failed.
	ReplyTasks metric.Int64Counter

	// BargeIns counts reply tasks cancelled by user speech.
	BargeIns metric.Int64Counter

	// LLMDuration tracks language-model call latency.
	LLMDuration metric.Float64Histogram

	// TTSFirstChunk tracks the delay from synthesis start to the first chunk.
	TTSFirstChunk metric.Float64Histogram

	// ReplyDuration tracks the full lifetime of a reply task.
	ReplyDuration metric.Float64Histogram

	// AudioOutBytes counts synthesized bytes written to clients.
	AudioOutBytes metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: kind, provider.
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice reply latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.SessionsActive, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsTotal, err = m.Int64Counter("parley.sessions.total",
		metric.WithDescription("Finished voice sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("parley.frames.processed",
		metric.WithDescription("Audio frames run through voice-activity detection."),
	); err != nil {
		return nil, err
	}
	if met.SpeechFrames, err = m.Int64Counter("parley.vad.speech_frames",
		metric.WithDescription("Audio frames classified as speech."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsFinal, err = m.Int64Counter("parley.transcripts.final",
		metric.WithDescription("Finalized transcripts by phase."),
	); err != nil {
		return nil, err
	}
	if met.ReplyTasks, err = m.Int64Counter("parley.reply_tasks",
		metric.WithDescription("Reply tasks by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.barge_ins",
		metric.WithDescription("Replies interrupted by user speech."),
	); err != nil {
		return nil, err
	}
	if met.AudioOutBytes, err = m.Int64Counter("parley.audio.out.bytes",
		metric.WithDescription("Synthesized audio bytes sent to clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Provider errors by capability kind and provider."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("Latency of language-model calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstChunk, err = m.Float64Histogram("parley.tts.first_chunk.duration",
		metric.WithDescription("Delay until the first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyDuration, err = m.Float64Histogram("parley.reply.duration",
		metric.WithDescription("Lifetime of reply tasks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionEnd decrements the active gauge and counts the outcome.
func (m *Metrics) RecordSessionEnd(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SessionsActive.Add(ctx, -1)
	m.SessionsTotal.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTranscript counts a finalized transcript. phase is "live" or "flush".
func (m *Metrics) RecordTranscript(ctx context.Context, phase string) {
	m.TranscriptsFinal.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase)))
}

// RecordReplyTask counts a reply task that reached state.
func (m *Metrics) RecordReplyTask(ctx context.Context, state string) {
	m.ReplyTasks.Add(ctx, 1, metric.WithAttributes(Attr("state", state)))
}

// RecordProviderError counts an error from the provider of the given
// capability kind ("vad", "stt", "llm", "tts").
func (m *Metrics) RecordProviderError(ctx context.Context, kind, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("provider", provider),
		),
	)
}
