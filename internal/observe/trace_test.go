package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withSpans installs an in-memory tracer provider as the global provider
// for the duration of the test.
func withSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_RecordsSessionAttr(t *testing.T) {
	exp := withSpans(t)

	ctx, span := StartSpan(context.Background(), "pipeline.Connect")
	span.SetAttributes(SessionAttr("s-1"))
	if TraceID(ctx) == "" {
		t.Error("span context has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "pipeline.Connect" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var got string
	for _, a := range spans[0].Attributes {
		if string(a.Key) == SessionKey {
			got = a.Value.AsString()
		}
	}
	if got != "s-1" {
		t.Errorf("%s attribute = %q, want s-1", SessionKey, got)
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID without span = %q, want empty", got)
	}

	withSpans(t)
	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "tick")
		id := TraceID(ctx)
		span.End()
		if len(id) != 32 {
			t.Fatalf("TraceID length = %d, want 32", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate trace ID %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	withSpans(t)

	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{name: "inside span", withSpan: true, wantTrace: true},
		{name: "no span", withSpan: false, wantTrace: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "pipeline.Disconnect")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("disconnecting")

			out := buf.String()
			if got := strings.Contains(out, "trace_id="); got != tt.wantTrace {
				t.Errorf("trace_id present = %v, want %v: %s", got, tt.wantTrace, out)
			}
			if got := strings.Contains(out, "span_id="); got != tt.wantTrace {
				t.Errorf("span_id present = %v, want %v: %s", got, tt.wantTrace, out)
			}
		})
	}
}
