package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/modelops/observe"
	"github.com/jonwraymond/modelops/resilience"
)

// Processor turns a batch of inputs into results. It must return exactly one
// result per input, in input order. ctx is cancelled when the batch times out
// or the scheduler is closed without waiting.
type Processor[I, R any] func(ctx context.Context, inputs []I) ([]R, error)

// Scheduler batches submitted tasks and runs them through a Processor.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use. Callbacks run
//     outside the scheduler's lock and may call back into the scheduler.
//   - Ordering: a batch holds the highest-priority eligible tasks, equal
//     priorities in submission order, and results map back by position.
//   - Errors: processor failures are retried per task and never returned
//     from Submit; only a task's submitter sees its terminal error.
type Scheduler[I, R any] struct {
	cfg     Config
	meta    observe.Component
	process Processor[I, R]
	clock   clockwork.Clock
	slots   *resilience.Bulkhead
	timeout *resilience.Timeout
	backoff *resilience.Backoff
	limiter *resilience.RateLimiter
	inst    *observe.Instrumentation
	logger  observe.Logger
	newID   func() string
	hooks   hooks[I, R]

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	queue    []*task[I, R]
	live     map[string]*task[I, R]
	inFlight int
	batches  int
	seq      uint64
	paused   bool
	closed   bool
	stats    Stats

	// Dispatch timer. At most one is armed; timerGen invalidates callbacks
	// of timers that were stopped or replaced.
	timer    clockwork.Timer
	timerAt  time.Time
	timerGen uint64
}

// New creates a Scheduler. ctx supplies values (not cancellation) to
// processor calls and is used for the startup log line.
func New[I, R any](ctx context.Context, cfg Config, process Processor[I, R], opts ...Option) (*Scheduler[I, R], error) {
	if process == nil {
		return nil, fmt.Errorf("%w: nil processor", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	h, err := resolveHooks[I, R](o)
	if err != nil {
		return nil, err
	}

	inst := o.inst
	if inst == nil {
		inst = observe.Nop()
	}
	if o.logger != nil || o.metrics != nil {
		logger, metrics := inst.Logger, inst.Metrics
		if o.logger != nil {
			logger = o.logger
		}
		if o.metrics != nil {
			metrics = o.metrics
		}
		inst = observe.NewInstrumentation(inst.Tracer, metrics, logger)
	}

	clock := o.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	newID := o.newID
	if newID == nil {
		newID = uuid.NewString
	}

	meta := observe.Component{Kind: observe.KindBatch, Name: cfg.Name}
	s := &Scheduler[I, R]{
		cfg:     cfg,
		meta:    meta,
		process: process,
		clock:   clock,
		slots:   resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: cfg.MaxConcurrent}),
		timeout: resilience.NewTimeout(resilience.TimeoutConfig{Timeout: cfg.Timeout}),
		inst:    inst,
		logger:  inst.Logger.WithComponent(meta),
		newID:   newID,
		hooks:   h,
		live:    make(map[string]*task[I, R]),
	}
	if cfg.RetryDelay > 0 {
		s.backoff = resilience.NewBackoff(resilience.BackoffConfig{
			InitialDelay: cfg.RetryDelay,
			Multiplier:   2,
			Strategy:     resilience.BackoffExponential,
		})
	}
	if cfg.MaxBatchesPerSecond > 0 {
		s.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  cfg.MaxBatchesPerSecond,
			Burst: cfg.Burst,
		})
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))

	s.logger.Info(ctx, "scheduler initialised",
		observe.Field{Key: "max_concurrent", Value: cfg.MaxConcurrent},
		observe.Field{Key: "max_batch_size", Value: cfg.MaxBatchSize},
		observe.Field{Key: "batch_time_window", Value: cfg.BatchTimeWindow.String()},
		observe.Field{Key: "max_retries", Value: cfg.MaxRetries},
		observe.Field{Key: "priority_threshold", Value: cfg.PriorityThreshold},
	)
	return s, nil
}

// Submit queues input at the given priority, clamped to [0, 10], and
// returns the task id. A priority at or above the threshold dispatches
// immediately if a concurrency slot is free; otherwise the debounce window
// is armed.
func (s *Scheduler[I, R]) Submit(input I, priority int) (string, error) {
	s.mu.Lock()
	t, err := s.enqueueLocked(input, priority)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	batches := s.kickLocked(t.Priority)
	s.mu.Unlock()

	s.launch(batches)
	return t.ID, nil
}

// SubmitMany queues every input at the same priority and returns their ids
// in input order.
func (s *Scheduler[I, R]) SubmitMany(inputs []I, priority int) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	ids := make([]string, 0, len(inputs))
	var last *task[I, R]
	for _, in := range inputs {
		t, err := s.enqueueLocked(in, priority)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		ids = append(ids, t.ID)
		last = t
	}
	batches := s.kickLocked(last.Priority)
	s.mu.Unlock()

	s.launch(batches)
	return ids, nil
}

// SubmitAndWait submits input and blocks until the task is terminal or ctx
// is done. Giving up on ctx does not cancel the task.
func (s *Scheduler[I, R]) SubmitAndWait(ctx context.Context, input I, priority int) (R, error) {
	s.mu.Lock()
	t, err := s.enqueueLocked(input, priority)
	if err != nil {
		s.mu.Unlock()
		var zero R
		return zero, err
	}
	batches := s.kickLocked(t.Priority)
	s.mu.Unlock()

	s.launch(batches)
	return s.wait(ctx, t)
}

// Await blocks until the queued or in-flight task id is terminal and
// returns its result. It returns ErrTaskNotFound for an id that already
// left the scheduler; SubmitAndWait has no such window.
func (s *Scheduler[I, R]) Await(ctx context.Context, id string) (R, error) {
	s.mu.Lock()
	t, ok := s.live[id]
	s.mu.Unlock()

	if !ok {
		var zero R
		return zero, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return s.wait(ctx, t)
}

func (s *Scheduler[I, R]) wait(ctx context.Context, t *task[I, R]) (R, error) {
	select {
	case <-t.done:
		if t.Err != nil {
			var zero R
			return zero, t.Err
		}
		return t.Result, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// GetTask returns a snapshot of a queued or in-flight task.
func (s *Scheduler[I, R]) GetTask(id string) (Task[I, R], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.live[id]
	if !ok {
		return Task[I, R]{}, false
	}
	return t.Task, true
}

// Status returns queue depth, in-flight work and cumulative stats.
func (s *Scheduler[I, R]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		QueueLength:     len(s.queue),
		InFlight:        s.inFlight,
		InFlightBatches: s.batches,
		Paused:          s.paused,
		Stats:           s.stats,
	}
}

// Backlog reports queued and in-flight task counts for health checks.
func (s *Scheduler[I, R]) Backlog() (queued, inFlight int, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.inFlight, s.paused
}

// Pause stops dispatch and disarms the pending timer. In-flight batches run
// to completion; their failed tasks are re-queued but not dispatched.
func (s *Scheduler[I, R]) Pause() {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.stopTimerLocked()
	s.mu.Unlock()

	s.logger.Info(context.Background(), "scheduler paused")
}

// Resume re-enables dispatch and re-arms the debounce window if work is queued.
func (s *Scheduler[I, R]) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	queued := len(s.queue)
	if queued > 0 {
		s.armLocked(s.clock.Now().Add(s.cfg.BatchTimeWindow))
	}
	s.mu.Unlock()

	s.logger.Info(context.Background(), "scheduler resumed", observe.Field{Key: "queue_length", Value: queued})
}

// Cancel removes a queued task and reports whether it did. In-flight and
// unknown tasks cannot be cancelled.
func (s *Scheduler[I, R]) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.live[id]
	if !ok || t.State != StateQueued {
		s.mu.Unlock()
		return false
	}
	s.queue = slices.DeleteFunc(s.queue, func(q *task[I, R]) bool { return q == t })
	s.finishLocked(t, StateCancelled, ErrTaskCancelled, s.clock.Now())
	s.stats.TasksCancelled++
	if len(s.queue) == 0 {
		s.stopTimerLocked()
	}
	s.mu.Unlock()

	s.inst.Metrics.RecordTaskOutcome(s.runCtx, s.meta, observe.OutcomeCancelled, 1)
	return true
}

// Clear cancels every queued task and disarms the pending timer. In-flight
// batches are unaffected. It returns the number of tasks dropped.
func (s *Scheduler[I, R]) Clear() int {
	s.mu.Lock()
	n := s.dropQueueLocked(ErrTaskCancelled)
	inFlight := s.inFlight
	s.mu.Unlock()

	if n > 0 {
		s.inst.Metrics.RecordTaskOutcome(s.runCtx, s.meta, observe.OutcomeCancelled, n)
	}
	s.logger.Info(context.Background(), "scheduler queue cleared",
		observe.Field{Key: "dropped", Value: n},
		observe.Field{Key: "in_flight", Value: inFlight},
	)
	return n
}

// Close stops dispatch, ends queued tasks with ErrSchedulerClosed and waits
// for in-flight batches. If ctx ends first, in-flight processor calls are
// cancelled and ctx's error is returned. Tasks of batches that fail after
// Close are not retried.
func (s *Scheduler[I, R]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.closed = true
	n := s.dropQueueLocked(ErrSchedulerClosed)
	s.mu.Unlock()

	if n > 0 {
		s.inst.Metrics.RecordTaskOutcome(ctx, s.meta, observe.OutcomeCancelled, n)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.cancelRun()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info(ctx, "scheduler closed", observe.Field{Key: "dropped", Value: n})
	return nil
}

func (s *Scheduler[I, R]) enqueueLocked(input I, priority int) (*task[I, R], error) {
	if s.closed {
		return nil, ErrSchedulerClosed
	}

	s.seq++
	t := &task[I, R]{
		Task: Task[I, R]{
			ID:          s.newID(),
			Input:       input,
			Priority:    ClampPriority(priority),
			State:       StateQueued,
			SubmittedAt: s.clock.Now(),
		},
		seq:  s.seq,
		done: make(chan struct{}),
	}
	s.queue = append(s.queue, t)
	s.live[t.ID] = t

	s.stats.TasksSubmitted++
	s.stats.MaxQueueLength = max(s.stats.MaxQueueLength, len(s.queue))
	return t, nil
}

// kickLocked reacts to new work: urgent work dispatches now, anything else
// arms the debounce window.
func (s *Scheduler[I, R]) kickLocked(priority int) [][]*task[I, R] {
	if s.paused {
		return nil
	}
	now := s.clock.Now()
	if priority >= s.cfg.PriorityThreshold {
		return s.dispatchLocked(now)
	}
	s.armLocked(now.Add(s.cfg.BatchTimeWindow))
	return nil
}

// dispatchLocked moves eligible tasks into batches, one per free concurrency
// slot, and returns them for launch. Tasks left behind are picked up by a
// re-armed timer or by the next batch completion.
func (s *Scheduler[I, R]) dispatchLocked(now time.Time) [][]*task[I, R] {
	if s.paused || s.closed || len(s.queue) == 0 {
		return nil
	}
	slices.SortFunc(s.queue, dispatchOrder[I, R])

	var out [][]*task[I, R]
	var throttledUntil time.Time
	for {
		picked := s.eligibleLocked(now)
		if len(picked) == 0 {
			break
		}
		if s.limiter != nil {
			if d := s.limiter.DelayAt(now); d > 0 {
				throttledUntil = now.Add(d)
				break
			}
		}
		if !s.slots.TryAcquire() {
			break
		}
		if s.limiter != nil {
			s.limiter.AllowAt(now)
		}
		out = append(out, s.takeLocked(picked, now))
	}
	s.wg.Add(len(out))

	s.rearmLocked(now, throttledUntil)
	return out
}

// eligibleLocked returns up to MaxBatchSize queued tasks whose backoff has
// elapsed, in queue order.
func (s *Scheduler[I, R]) eligibleLocked(now time.Time) []*task[I, R] {
	var picked []*task[I, R]
	for _, t := range s.queue {
		if t.NotBefore.After(now) {
			continue
		}
		picked = append(picked, t)
		if len(picked) == s.cfg.MaxBatchSize {
			break
		}
	}
	return picked
}

func (s *Scheduler[I, R]) takeLocked(batch []*task[I, R], now time.Time) []*task[I, R] {
	taken := make(map[*task[I, R]]struct{}, len(batch))
	for _, t := range batch {
		t.State = StateInFlight
		t.StartedAt = now
		taken[t] = struct{}{}
	}
	s.queue = slices.DeleteFunc(s.queue, func(t *task[I, R]) bool {
		_, ok := taken[t]
		return ok
	})
	s.inFlight += len(batch)
	s.batches++
	return batch
}

// rearmLocked arms the timer for the earliest instant at which a queued task
// could become dispatchable: the end of a rate-limit delay or of a backoff.
// Tasks that are eligible now but lack a slot wait for a batch to complete.
func (s *Scheduler[I, R]) rearmLocked(now, throttledUntil time.Time) {
	if len(s.queue) == 0 {
		s.stopTimerLocked()
		return
	}
	next := throttledUntil
	for _, t := range s.queue {
		if t.NotBefore.After(now) && (next.IsZero() || t.NotBefore.Before(next)) {
			next = t.NotBefore
		}
	}
	if !next.IsZero() {
		s.armLocked(next)
	}
}

// armLocked schedules a dispatch attempt at the given instant unless one is
// already due no later than that.
func (s *Scheduler[I, R]) armLocked(at time.Time) {
	if s.paused || s.closed {
		return
	}
	if s.timer != nil && !at.Before(s.timerAt) {
		return
	}
	s.stopTimerLocked()

	gen := s.timerGen
	s.timerAt = at
	// The callback only hops to a new goroutine: fake clocks fire it while
	// holding their own lock.
	s.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() { go s.onTimer(gen) })
}

func (s *Scheduler[I, R]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Scheduler[I, R]) onTimer(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	batches := s.dispatchLocked(s.clock.Now())
	s.mu.Unlock()

	s.launch(batches)
}

func (s *Scheduler[I, R]) launch(batches [][]*task[I, R]) {
	for _, b := range batches {
		go s.run(b)
	}
}

// run executes one batch under the per-batch timeout and settles its tasks.
func (s *Scheduler[I, R]) run(batch []*task[I, R]) {
	defer s.wg.Done()

	// Inputs are immutable after submission.
	inputs := make([]I, len(batch))
	for i, t := range batch {
		inputs[i] = t.Input
	}

	var results []R
	elapsed, err := s.inst.Span(s.runCtx, s.meta, "dispatch", func(ctx context.Context) error {
		var err error
		results, err = resilience.Run(ctx, s.timeout, func(ctx context.Context) ([]R, error) {
			return s.process(ctx, inputs)
		})
		switch {
		case errors.Is(err, resilience.ErrTimeout):
			return fmt.Errorf("%w: %w", ErrBatchTimeout, err)
		case err != nil:
			return &BatchProcessingError{Err: err}
		case len(results) != len(inputs):
			return &BatchProcessingError{
				Err: fmt.Errorf("%w: %d results for %d inputs", ErrResultMismatch, len(results), len(inputs)),
			}
		}
		return nil
	}, attribute.Int("batch.size", len(batch)))

	s.inst.Metrics.RecordBatch(s.runCtx, s.meta, len(batch), elapsed, err)
	s.settle(batch, results, err, elapsed)
}

// settlement collects what to report once the lock is released.
type settlement[I, R any] struct {
	completed []Task[I, R]
	cause     error
	attempted []Task[I, R]
	exhausted []Task[I, R]
	retried   int
	queued    int
}

func (s *Scheduler[I, R]) settle(batch []*task[I, R], results []R, cause error, elapsed time.Duration) {
	var st settlement[I, R]

	s.mu.Lock()
	now := s.clock.Now()
	s.slots.Release()
	s.batches--
	s.inFlight -= len(batch)

	if cause == nil {
		for i, t := range batch {
			t.Result = results[i]
			s.finishLocked(t, StateCompleted, nil, now)
		}
		s.stats.TasksCompleted += uint64(len(batch))
		s.stats.recordBatch(len(batch), elapsed)
		st.completed = snapshots(batch)
	} else {
		st.cause = cause
		s.failLocked(batch, cause, now, &st)
	}

	st.queued = len(s.queue)
	if st.queued > 0 {
		s.armLocked(now.Add(s.cfg.BatchTimeWindow))
	}
	s.mu.Unlock()

	s.report(st)
}

// failLocked re-queues each task of a failed batch with a raised priority and
// a backoff, or ends it once its retries are spent.
func (s *Scheduler[I, R]) failLocked(batch []*task[I, R], cause error, now time.Time, st *settlement[I, R]) {
	for _, t := range batch {
		t.RetryCount++

		if !s.closed && t.RetryCount <= s.cfg.MaxRetries {
			t.State = StateQueued
			t.Priority = min(t.Priority+1, MaxPriority)
			t.NotBefore = now.Add(s.retryDelay(t.RetryCount))
			s.queue = append(s.queue, t)
			s.stats.TotalRetries++
			st.retried++
			continue
		}

		var err error
		if s.closed {
			err = fmt.Errorf("%w: %w", ErrSchedulerClosed, cause)
		} else {
			err = &RetryExhaustedError{Attempts: t.RetryCount, Err: cause}
		}
		s.finishLocked(t, StateFailed, err, now)
		s.stats.TasksFailed++
		st.exhausted = append(st.exhausted, t.Task)
	}
	st.attempted = snapshots(batch)
}

func (s *Scheduler[I, R]) retryDelay(retry int) time.Duration {
	if s.backoff == nil {
		return 0
	}
	return s.backoff.Delay(retry)
}

// finishLocked makes t terminal and releases its waiters.
func (s *Scheduler[I, R]) finishLocked(t *task[I, R], state State, err error, now time.Time) {
	t.State = state
	t.Err = err
	t.FinishedAt = now
	delete(s.live, t.ID)
	close(t.done)
}

func (s *Scheduler[I, R]) dropQueueLocked(reason error) int {
	s.stopTimerLocked()
	now := s.clock.Now()
	n := len(s.queue)
	for _, t := range s.queue {
		s.finishLocked(t, StateCancelled, reason, now)
	}
	s.queue = nil
	s.stats.TasksCancelled += uint64(n)
	return n
}

func (s *Scheduler[I, R]) report(st settlement[I, R]) {
	ctx := s.runCtx

	if n := len(st.completed); n > 0 {
		s.inst.Metrics.RecordTaskOutcome(ctx, s.meta, observe.OutcomeCompleted, n)
		if s.hooks.taskComplete != nil {
			for _, t := range st.completed {
				s.hooks.taskComplete(t)
			}
		}
		if s.hooks.batchComplete != nil {
			s.hooks.batchComplete(st.completed)
		}
	}

	if st.cause == nil {
		return
	}

	if st.retried > 0 {
		s.inst.Metrics.RecordTaskOutcome(ctx, s.meta, observe.OutcomeRetried, st.retried)
	}
	if n := len(st.exhausted); n > 0 {
		s.inst.Metrics.RecordTaskOutcome(ctx, s.meta, observe.OutcomeFailed, n)
	}
	if s.hooks.err != nil {
		s.hooks.err(st.cause, st.attempted)
	}
	for _, t := range st.exhausted {
		s.logger.Warn(ctx, "task retries exhausted",
			observe.Field{Key: "task_id", Value: t.ID},
			observe.Field{Key: "attempts", Value: t.RetryCount},
			observe.Field{Key: "error", Value: t.Err.Error()},
		)
		if s.hooks.taskFailed != nil {
			s.hooks.taskFailed(t)
		}
	}
}
