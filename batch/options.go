package batch

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/modelops/observe"
)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	inst    *observe.Instrumentation
	logger  observe.Logger
	metrics observe.Metrics
	newID   func() string

	onTaskComplete  any
	onBatchComplete any
	onError         any
	onTaskFailed    any
}

// WithClock sets the time source for debounce and backoff timers.
// Default: the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithInstrumentation sets tracer, metrics and logger from one bundle.
func WithInstrumentation(inst *observe.Instrumentation) Option {
	return func(o *options) { o.inst = inst }
}

// WithLogger overrides the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics overrides the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIDGenerator replaces the UUID task id generator. Generated ids must
// be unique for the scheduler's lifetime.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithOnTaskComplete is called once per successful task, outside the
// scheduler's lock.
func WithOnTaskComplete[I, R any](fn func(Task[I, R])) Option {
	return func(o *options) { o.onTaskComplete = fn }
}

// WithOnBatchComplete is called once per successful batch, after the
// per-task callbacks.
func WithOnBatchComplete[I, R any](fn func([]Task[I, R])) Option {
	return func(o *options) { o.onBatchComplete = fn }
}

// WithOnError is called once per failed batch with the failure and the
// batch's tasks, retried and exhausted alike.
func WithOnError[I, R any](fn func(error, []Task[I, R])) Option {
	return func(o *options) { o.onError = fn }
}

// WithOnTaskFailed is called once per task that exhausted its retries.
func WithOnTaskFailed[I, R any](fn func(Task[I, R])) Option {
	return func(o *options) { o.onTaskFailed = fn }
}

type hooks[I, R any] struct {
	taskComplete  func(Task[I, R])
	batchComplete func([]Task[I, R])
	err           func(error, []Task[I, R])
	taskFailed    func(Task[I, R])
}

func resolveHooks[I, R any](o options) (hooks[I, R], error) {
	var h hooks[I, R]
	var err error
	if h.taskComplete, err = hookAs[func(Task[I, R])](o.onTaskComplete, "task complete"); err != nil {
		return h, err
	}
	if h.batchComplete, err = hookAs[func([]Task[I, R])](o.onBatchComplete, "batch complete"); err != nil {
		return h, err
	}
	if h.err, err = hookAs[func(error, []Task[I, R])](o.onError, "error"); err != nil {
		return h, err
	}
	if h.taskFailed, err = hookAs[func(Task[I, R])](o.onTaskFailed, "task failed"); err != nil {
		return h, err
	}
	return h, nil
}

func hookAs[F any](v any, name string) (F, error) {
	var zero F
	if v == nil {
		return zero, nil
	}
	fn, ok := v.(F)
	if !ok {
		return zero, fmt.Errorf("%w: %s callback %T does not match the scheduler's types", ErrInvalidConfig, name, v)
	}
	return fn, nil
}
