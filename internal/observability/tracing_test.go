package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerDefaultsServiceName(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil || tracer.tracer == nil {
		t.Fatal("NewTracer() returned a tracer with a nil underlying trace.Tracer")
	}

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatal("NewTracer() span is not an SDK span")
	}
	if got := ro.InstrumentationScope().Name; got != "adk" {
		t.Errorf("tracer name = %q, want default service name %q", got, "adk")
	}
}

func TestNilTracerMethodsAreNoops(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.Start(context.Background(), "op")
	if ctx == nil || span == nil {
		t.Fatal("nil *Tracer.Start should still return a usable (non-recording) span")
	}
	tracer.SetAttributes(span, "k", "v")
	tracer.RecordError(span, errors.New("boom"))
	ctx2, span2 := tracer.TraceHandle(ctx, "conv-1")
	if ctx2 == nil || span2 == nil {
		t.Fatal("nil *Tracer.TraceHandle should not panic")
	}
}

func TestTracerRecordsSpansWithAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := &Tracer{provider: provider, tracer: provider.Tracer("test")}

	ctx, span := tracer.TraceHandle(context.Background(), "conv-42")
	_, planSpan := tracer.TracePlan(ctx, 1)
	tracer.RecordError(planSpan, errors.New("unparseable plan"))
	planSpan.End()
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2", len(spans))
	}

	var planRecorded bool
	for _, s := range spans {
		if s.Name != "agent.plan" {
			continue
		}
		planRecorded = true
		if s.Status.Code != codes.Error {
			t.Errorf("plan span status = %v, want Error", s.Status.Code)
		}
	}
	if !planRecorded {
		t.Fatal("expected an agent.plan span in the exported batch")
	}
}
