// Package observability provides OpenTelemetry span instrumentation for the
// AgentRuntime pipeline and TaskOrchestrator submission path (SPEC_FULL.md
// §11 DOMAIN STACK). Grounded on the teacher's internal/observability
// package (tracing.go's NewTracer/Start/RecordError/SetAttributes shape),
// narrowed from the teacher's channel/HTTP/database span vocabulary
// (TraceMessageProcessing, TraceHTTPRequest, TraceDatabaseQuery) to this
// core's own pipeline stages: Handle, retrieve, plan, dispatch, and Submit.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry trace.Tracer with the span helpers
// AgentRuntime and TaskOrchestrator call. A nil *Tracer is valid and every
// method on it is a no-op, so callers that run without tracing configured
// (the common case in tests) need not construct one.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures the distributed tracing behavior (spec.md §6-adjacent
// ambient concern: not itself a spec.md key, since tracing is infrastructure
// rather than domain behavior).
type TraceConfig struct {
	// ServiceName identifies this service in traces. Defaults to "adk".
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev).
	Environment string

	// SamplingRate controls what fraction of traces are recorded (0.0 to 1.0).
	// Defaults to 1.0.
	SamplingRate float64

	// Attributes are additional resource attributes to include in all spans.
	Attributes map[string]string
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer creates a Tracer backed by a process-local OpenTelemetry
// TracerProvider and registers it as the global provider. The returned
// shutdown func flushes and releases the provider's resources on exit.
//
// This core has no OTLP collector dependency wired in (SPEC_FULL.md scopes
// exporter/collector choice out as a deployment decision, not a core
// behavior); spans are available to any exporter the process registers
// through otel's global provider, including the default no-export span
// processor used here when none is set up by the embedding binary.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "adk"
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", config.ServiceName),
	}
	if config.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, provider.Shutdown
}

// Start creates a new span and returns a context containing it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError records an error on the span and sets its status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if t == nil || span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs as span attributes.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	if t == nil || span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

// TraceHandle starts the top-level span for one AgentRuntime.Handle call
// (spec.md §4.A).
func (t *Tracer) TraceHandle(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "agent.handle", SpanOptions{Kind: trace.SpanKindServer})
	t.SetAttributes(span, "conversation_id", conversationID)
	return ctx, span
}

// TraceRetrieve starts a span for step 3's SemanticIndex queries.
func (t *Tracer) TraceRetrieve(ctx context.Context) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.retrieve", SpanOptions{Kind: trace.SpanKindInternal})
}

// TracePlan starts a span for one planner request in step 4, tagged with
// its loop iteration index.
func (t *Tracer) TracePlan(ctx context.Context, iteration int) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "agent.plan", SpanOptions{Kind: trace.SpanKindClient})
	t.SetAttributes(span, "iteration", iteration)
	return ctx, span
}

// TraceDispatch starts a span enclosing one plan's tool_calls turn (spec.md
// §4.B), tagged with how many calls it contains.
func (t *Tracer) TraceDispatch(ctx context.Context, callCount int) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "agent.dispatch", SpanOptions{Kind: trace.SpanKindInternal})
	t.SetAttributes(span, "tool_calls", callCount)
	return ctx, span
}

// TraceSubmit starts a span for TaskOrchestrator.Submit (spec.md §4.C).
func (t *Tracer) TraceSubmit(ctx context.Context, templateID string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "tasks.submit", SpanOptions{Kind: trace.SpanKindInternal})
	t.SetAttributes(span, "template_id", templateID)
	return ctx, span
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
