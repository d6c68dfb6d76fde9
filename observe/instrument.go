package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Instrumentation bundles the telemetry handles a cache or scheduler needs.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: errors from wrapped functions are recorded and returned unchanged.
type Instrumentation struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// NewInstrumentation fills nil handles with no-op implementations.
func NewInstrumentation(tracer Tracer, metrics Metrics, logger Logger) *Instrumentation {
	if tracer == nil {
		tracer = NoopTracer()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Instrumentation{Tracer: tracer, Metrics: metrics, Logger: logger}
}

// Nop returns instrumentation that records nothing.
func Nop() *Instrumentation {
	return NewInstrumentation(nil, nil, nil)
}

// InstrumentationFromObserver builds Instrumentation from an Observer.
func InstrumentationFromObserver(obs Observer) (*Instrumentation, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewInstrumentation(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Span runs fn inside a span named after meta and op and returns fn's error
// along with its wall-clock duration. Failures are logged at error level.
func (i *Instrumentation) Span(ctx context.Context, meta Component, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) (time.Duration, error) {
	ctx, span := i.Tracer.StartSpan(ctx, meta, op, attrs...)

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	i.Tracer.EndSpan(span, err)

	logger := i.Logger.WithComponent(meta)
	fields := []Field{
		{Key: "op", Value: op},
		{Key: "duration_ms", Value: float64(duration.Milliseconds())},
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		logger.Error(ctx, op+" failed", fields...)
	} else {
		logger.Debug(ctx, op+" completed", fields...)
	}

	return duration, err
}
