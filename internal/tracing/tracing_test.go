package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vecroute"}, "dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStart_RecordsSpanAndTraceID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := Start(context.Background(), "search")
	if TraceID(ctx) == "" {
		t.Error("expected a trace id inside a recorded span")
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "search" {
		t.Fatalf("unexpected spans: %v", ended)
	}
	if TraceID(context.Background()) != "" {
		t.Error("expected empty trace id without a span")
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != sdktrace.NeverSample().Description() {
		t.Errorf("rate 0: got %s", got)
	}
	if got := sampler(1).Description(); got != sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
		t.Errorf("rate 1: got %s", got)
	}
}
