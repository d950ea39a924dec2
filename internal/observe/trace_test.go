package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider globally for the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestEndSpan(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "ok", wantStatus: codes.Unset},
		{name: "failed", err: errors.New("voice: chat: boom"), wantStatus: codes.Error, wantEvents: 1},
	}
	for _, tt := range tests {
		exp.Reset()
		ctx, span := StartSpan(context.Background(), "voice.reply")
		if CorrelationID(ctx) == "" {
			t.Fatalf("%s: StartSpan did not create a recording span", tt.name)
		}
		EndSpan(span, tt.err)

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: spans = %d, want 1", tt.name, len(spans))
		}
		got := spans[0]
		if got.Name != "voice.reply" {
			t.Errorf("%s: name = %q", tt.name, got.Name)
		}
		if got.Status.Code != tt.wantStatus {
			t.Errorf("%s: status = %v, want %v", tt.name, got.Status.Code, tt.wantStatus)
		}
		if len(got.Events) != tt.wantEvents {
			t.Errorf("%s: events = %d, want %d", tt.name, len(got.Events), tt.wantEvents)
		}
		if got.InstrumentationScope.Name != tracerName {
			t.Errorf("%s: scope = %q, want %q", tt.name, got.InstrumentationScope.Name, tracerName)
		}
	}
}

func TestWithTrace(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("session_id", "s-1")

	if got := WithTrace(context.Background(), base); got != base {
		t.Error("WithTrace without a span should return the logger unchanged")
	}

	ctx, span := StartSpan(context.Background(), "voice.session")
	defer span.End()

	WithTrace(ctx, base).Info("session started")
	line := buf.String()
	for _, want := range []string{"session_id=s-1", "trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}
