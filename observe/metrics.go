package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Task outcomes reported through RecordTaskOutcome.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics records cache and batch metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCacheAccess counts a cache lookup as a hit or a miss.
	RecordCacheAccess(ctx context.Context, meta Component, hit bool)

	// RecordEviction records one eviction round.
	RecordEviction(ctx context.Context, meta Component, items int, bytes int64)

	// RecordBatch records one dispatched batch.
	RecordBatch(ctx context.Context, meta Component, size int, duration time.Duration, err error)

	// RecordTaskOutcome counts n tasks reaching outcome.
	RecordTaskOutcome(ctx context.Context, meta Component, outcome string, n int)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	evictions    metric.Int64Counter
	evictedBytes metric.Int64Counter
	batchSize    metric.Int64Histogram
	batchLatency metric.Float64Histogram
	batchErrors  metric.Int64Counter
	tasks        metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.hits, err = meter.Int64Counter(
		"modelops.cache.hits",
		metric.WithDescription("Cache lookups that returned a live entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.misses, err = meter.Int64Counter(
		"modelops.cache.misses",
		metric.WithDescription("Cache lookups that found nothing or an expired entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.evictions, err = meter.Int64Counter(
		"modelops.cache.evictions",
		metric.WithDescription("Entries removed to satisfy the cache budget"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.evictedBytes, err = meter.Int64Counter(
		"modelops.cache.evicted_bytes",
		metric.WithDescription("Estimated bytes freed by eviction"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.batchSize, err = meter.Int64Histogram(
		"modelops.batch.size",
		metric.WithDescription("Tasks per dispatched batch"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}

	if m.batchLatency, err = meter.Float64Histogram(
		"modelops.batch.duration_ms",
		metric.WithDescription("Batch processing duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.batchErrors, err = meter.Int64Counter(
		"modelops.batch.errors",
		metric.WithDescription("Batches whose processor failed or timed out"),
		metric.WithUnit("{batch}"),
	); err != nil {
		return nil, err
	}

	if m.tasks, err = meter.Int64Counter(
		"modelops.batch.tasks",
		metric.WithDescription("Task outcomes"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordCacheAccess(ctx context.Context, meta Component, hit bool) {
	opt := metric.WithAttributes(meta.attributes()...)
	if hit {
		m.hits.Add(ctx, 1, opt)
		return
	}
	m.misses.Add(ctx, 1, opt)
}

func (m *metricsImpl) RecordEviction(ctx context.Context, meta Component, items int, bytes int64) {
	opt := metric.WithAttributes(meta.attributes()...)
	m.evictions.Add(ctx, int64(items), opt)
	m.evictedBytes.Add(ctx, bytes, opt)
}

func (m *metricsImpl) RecordBatch(ctx context.Context, meta Component, size int, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)
	m.batchSize.Record(ctx, int64(size), opt)
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), opt)
	if err != nil {
		m.batchErrors.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordTaskOutcome(ctx context.Context, meta Component, outcome string, n int) {
	if n <= 0 {
		return
	}
	attrs := append(meta.attributes(), attribute.String("outcome", outcome))
	m.tasks.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordCacheAccess(context.Context, Component, bool)                {}
func (noopMetrics) RecordEviction(context.Context, Component, int, int64)             {}
func (noopMetrics) RecordBatch(context.Context, Component, int, time.Duration, error) {}
func (noopMetrics) RecordTaskOutcome(context.Context, Component, string, int)         {}
