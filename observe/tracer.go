package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Component kinds.
const (
	KindCache = "cache"
	KindBatch = "batch"
)

// Component identifies an instrumented cache or scheduler.
type Component struct {
	Kind string // KindCache or KindBatch
	Name string // Instance name, e.g. "embeddings"
}

// SpanName returns the deterministic span name for an operation.
// Format: <kind>.<op>.<name>
func (c Component) SpanName(op string) string {
	return c.Kind + "." + op + "." + c.Name
}

// Validate reports ErrMissingComponentName for an unnamed component.
func (c Component) Validate() error {
	if c.Name == "" {
		return ErrMissingComponentName
	}
	return nil
}

func (c Component) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("component.kind", c.Kind),
		attribute.String("component.name", c.Name),
	}
}

// Tracer wraps OpenTelemetry tracing with component-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for op on the component.
	StartSpan(ctx context.Context, meta Component, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta Component, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append(meta.attributes(), attribute.Bool("component.error", false))
	all = append(all, attrs...)

	return t.tracer.Start(ctx, meta.SpanName(op),
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("component.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta Component, op string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName(op))
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
