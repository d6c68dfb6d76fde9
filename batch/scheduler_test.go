package batch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jonwraymond/modelops/observe"
	"github.com/jonwraymond/modelops/resilience"
)

var errBoom = errors.New("backend unavailable")

const waitLimit = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.RetryDelay = 100 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, p Processor[int, int], opts ...Option) (*Scheduler[int, int], *clockwork.FakeClock) {
	t.Helper()
	return newTestSchedulerWithClock(t, clockwork.NewFakeClock(), cfg, p, opts...)
}

func newTestSchedulerWithClock(t *testing.T, clock *clockwork.FakeClock, cfg Config, p Processor[int, int], opts ...Option) (*Scheduler[int, int], *clockwork.FakeClock) {
	t.Helper()
	s, err := New(context.Background(), cfg, p, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, clock
}

// call is one processor invocation.
type call struct {
	at     time.Time
	inputs []int
}

// backend is a controllable processor. Each call is reported on calls; if
// gated, the call then blocks until release receives or ctx ends.
type backend struct {
	clock   clockwork.Clock
	calls   chan call
	release chan struct{}
	err     error
}

func newBackend(clock clockwork.Clock, gated bool) *backend {
	b := &backend{clock: clock, calls: make(chan call, 64)}
	if gated {
		b.release = make(chan struct{})
	}
	return b
}

func (b *backend) process(ctx context.Context, inputs []int) ([]int, error) {
	b.calls <- call{at: b.clock.Now(), inputs: append([]int(nil), inputs...)}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	out := make([]int, len(inputs))
	for i, in := range inputs {
		out[i] = in * 10
	}
	return out, nil
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitLimit):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func assertNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

// advanceUntil steps the clock whenever a timer is armed until ch yields.
func advanceUntil[T any](t *testing.T, clock *clockwork.FakeClock, ch <-chan T, step time.Duration) T {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case v := <-ch:
			return v
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := clock.BlockUntilContext(ctx, 1)
		cancel()
		if err == nil {
			clock.Advance(step)
		}
	}
	t.Fatal("timed out advancing clock")
	var zero T
	return zero
}

type outcomeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	batches  int
}

func (m *outcomeMetrics) RecordCacheAccess(context.Context, observe.Component, bool)    {}
func (m *outcomeMetrics) RecordEviction(context.Context, observe.Component, int, int64) {}

func (m *outcomeMetrics) RecordBatch(context.Context, observe.Component, int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
}

func (m *outcomeMetrics) RecordTaskOutcome(_ context.Context, _ observe.Component, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome] += n
}

func (m *outcomeMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

func TestScheduler_DebounceWindowAccumulatesBatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	completed := make(chan Task[int, int], 8)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process,
		WithOnTaskComplete(func(task Task[int, int]) { completed <- task }))

	start := clock.Now()
	for i := 1; i <= 3; i++ {
		_, err := s.Submit(i, DefaultPriority)
		require.NoError(t, err)
	}

	waitTimer(t, clock)
	clock.Advance(199 * time.Millisecond)
	assertNothing(t, be.calls)

	clock.Advance(time.Millisecond)
	c := recv(t, be.calls)
	assert.Equal(t, []int{1, 2, 3}, c.inputs)
	assert.Equal(t, 200*time.Millisecond, c.at.Sub(start))

	got := map[int]int{}
	for i := 0; i < 3; i++ {
		task := recv(t, completed)
		assert.Equal(t, StateCompleted, task.State)
		got[task.Input] = task.Result
	}
	assert.Equal(t, map[int]int{1: 10, 2: 20, 3: 30}, got)
}

func TestScheduler_BatchSizeBound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	cfg.MaxConcurrent = 1
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process)

	for i := 0; i < 5; i++ {
		_, err := s.Submit(i, DefaultPriority)
		require.NoError(t, err)
	}

	waitTimer(t, clock)
	clock.Advance(cfg.BatchTimeWindow)

	first := recv(t, be.calls)
	assert.Equal(t, []int{0, 1, 2}, first.inputs)

	st := s.Status()
	assert.Equal(t, 2, st.QueueLength)
	assert.Equal(t, 3, st.InFlight)
	assert.Equal(t, 1, st.InFlightBatches)

	clock.Advance(time.Hour)
	assertNothing(t, be.calls)

	be.release <- struct{}{}

	waitTimer(t, clock)
	clock.Advance(cfg.BatchTimeWindow)
	second := recv(t, be.calls)
	assert.Equal(t, []int{3, 4}, second.inputs)
	be.release <- struct{}{}
}

func TestScheduler_PriorityPreemption(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	cfg := testConfig()
	cfg.PriorityThreshold = 8
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process)

	start := clock.Now()
	got, err := s.SubmitAndWait(context.Background(), 7, 9)
	require.NoError(t, err)
	assert.Equal(t, 70, got)

	c := recv(t, be.calls)
	assert.Equal(t, start, c.at, "urgent task must not wait out the window")
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxBatchSize = 2
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process)

	submissions := []struct{ input, priority int }{{1, 1}, {2, 5}, {3, 7}, {4, 5}}
	for _, sub := range submissions {
		_, err := s.Submit(sub.input, sub.priority)
		require.NoError(t, err)
	}

	waitTimer(t, clock)
	clock.Advance(cfg.BatchTimeWindow)
	assert.Equal(t, []int{3, 2}, recv(t, be.calls).inputs)
	be.release <- struct{}{}

	waitTimer(t, clock)
	clock.Advance(cfg.BatchTimeWindow)
	assert.Equal(t, []int{4, 1}, recv(t, be.calls).inputs)
	be.release <- struct{}{}
}

func TestScheduler_DispatchOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-2, 12), 1, 20).Draw(rt, "priorities")

		clock := clockwork.NewFakeClock()
		be := newBackend(clock, false)
		cfg := testConfig()
		cfg.MaxConcurrent = 1
		cfg.MaxBatchSize = len(priorities)
		cfg.PriorityThreshold = MaxPriority

		s, err := New[int, int](context.Background(), cfg, be.process, WithClock(clock))
		if err != nil {
			rt.Fatal(err)
		}
		defer s.Close(context.Background())

		s.Pause()
		for i, p := range priorities {
			if _, err := s.Submit(i, p); err != nil {
				rt.Fatal(err)
			}
		}
		s.Resume()

		ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
		defer cancel()
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			rt.Fatal(err)
		}
		clock.Advance(cfg.BatchTimeWindow)

		var c call
		select {
		case c = <-be.calls:
		case <-time.After(waitLimit):
			rt.Fatal("no dispatch")
		}
		if len(c.inputs) != len(priorities) {
			rt.Fatalf("batch has %d tasks, want %d", len(c.inputs), len(priorities))
		}
		for i := 1; i < len(c.inputs); i++ {
			prev, cur := c.inputs[i-1], c.inputs[i]
			pp, cp := ClampPriority(priorities[prev]), ClampPriority(priorities[cur])
			if pp < cp || (pp == cp && prev > cur) {
				rt.Fatalf("task %d (priority %d) dispatched before task %d (priority %d)", prev, pp, cur, cp)
			}
		}
	})
}

func TestScheduler_RetryBackoffAndExhaustion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	be.err = errBoom
	cfg := testConfig()
	cfg.BatchTimeWindow = 10 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryDelay = 100 * time.Millisecond

	failed := make(chan Task[int, int], 1)
	metrics := &outcomeMetrics{}
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process,
		WithOnTaskFailed(func(task Task[int, int]) { failed <- task }),
		WithMetrics(metrics))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.SubmitAndWait(context.Background(), 1, DefaultPriority)
		errCh <- err
	}()

	step := 10 * time.Millisecond
	first := advanceUntil(t, clock, be.calls, step)
	second := advanceUntil(t, clock, be.calls, step)
	third := advanceUntil(t, clock, be.calls, step)

	assert.Equal(t, 100*time.Millisecond, second.at.Sub(first.at))
	assert.Equal(t, 200*time.Millisecond, third.at.Sub(second.at))

	err := recv(t, errCh)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, errBoom)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	var procErr *BatchProcessingError
	assert.ErrorAs(t, err, &procErr)

	task := recv(t, failed)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, 3, task.RetryCount)
	assert.Equal(t, DefaultPriority+2, task.Priority, "each retry raises priority by one")

	clock.Advance(10 * time.Second)
	assertNothing(t, be.calls)

	st := s.Status().Stats
	assert.Equal(t, uint64(2), st.TotalRetries)
	assert.Equal(t, uint64(1), st.TasksFailed)
	assert.Equal(t, uint64(0), st.BatchesProcessed)
	assert.Equal(t, 2, metrics.count(observe.OutcomeRetried))
	assert.Equal(t, 1, metrics.count(observe.OutcomeFailed))
}

func TestScheduler_RetryPriorityCapped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	be.err = errBoom
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = 0

	failed := make(chan Task[int, int], 1)
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process,
		WithOnTaskFailed(func(task Task[int, int]) { failed <- task }))

	_, err := s.Submit(1, MaxPriority)
	require.NoError(t, err)
	first := recv(t, be.calls)

	// With no retry delay the retry waits only for the debounce window.
	waitTimer(t, clock)
	clock.Advance(cfg.BatchTimeWindow)
	second := recv(t, be.calls)
	assert.Equal(t, cfg.BatchTimeWindow, second.at.Sub(first.at))

	task := recv(t, failed)
	assert.Equal(t, MaxPriority, task.Priority)
	assert.ErrorIs(t, task.Err, ErrRetryExhausted)
}

func TestScheduler_OnErrorReceivesBatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	be.err = errBoom
	cfg := testConfig()
	cfg.MaxRetries = 0

	type failure struct {
		err   error
		tasks []Task[int, int]
	}
	failures := make(chan failure, 1)
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process,
		WithOnError(func(err error, tasks []Task[int, int]) { failures <- failure{err, tasks} }))

	ids, err := s.SubmitMany([]int{1, 2}, MaxPriority)
	require.NoError(t, err)

	f := recv(t, failures)
	assert.ErrorIs(t, f.err, errBoom)
	require.Len(t, f.tasks, 2)
	assert.ElementsMatch(t, ids, []string{f.tasks[0].ID, f.tasks[1].ID})
}

func TestScheduler_Failures(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		process Processor[int, int]
		want    []error
	}{
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			process: func(ctx context.Context, _ []int) ([]int, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			want: []error{ErrBatchTimeout, resilience.ErrTimeout, ErrRetryExhausted},
		},
		{
			name: "panic",
			process: func(context.Context, []int) ([]int, error) {
				panic("boom")
			},
			want: []error{resilience.ErrPanic, ErrRetryExhausted},
		},
		{
			name: "result mismatch",
			process: func(_ context.Context, in []int) ([]int, error) {
				return make([]int, len(in)+1), nil
			},
			want: []error{ErrResultMismatch, ErrRetryExhausted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = 0
			if tt.timeout > 0 {
				cfg.Timeout = tt.timeout
			}
			s, _ := newTestScheduler(t, cfg, tt.process)

			ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
			defer cancel()
			_, err := s.SubmitAndWait(ctx, 1, MaxPriority)
			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, uint64(1), s.Status().Stats.TasksFailed)
		})
	}
}

func TestScheduler_FailureIsolatedToBatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxRetries = 0

	s, _ := newTestSchedulerWithClock(t, clock, cfg, func(_ context.Context, in []int) ([]int, error) {
		if in[0] < 0 {
			return nil, errBoom
		}
		return in, nil
	})

	_, err := s.SubmitAndWait(context.Background(), -1, MaxPriority)
	assert.ErrorIs(t, err, errBoom)

	got, err := s.SubmitAndWait(context.Background(), 5, MaxPriority)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestScheduler_CancelQueued(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process)

	id, err := s.Submit(1, DefaultPriority)
	require.NoError(t, err)

	task, ok := s.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateQueued, task.State)

	assert.True(t, s.Cancel(id))
	_, ok = s.GetTask(id)
	assert.False(t, ok)
	assert.False(t, s.Cancel(id))
	assert.False(t, s.Cancel("unknown"))

	clock.Advance(time.Second)
	assertNothing(t, be.calls)
	assert.Equal(t, uint64(1), s.Status().Stats.TasksCancelled)
}

func TestScheduler_CancelInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	completed := make(chan Task[int, int], 1)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process,
		WithOnTaskComplete(func(task Task[int, int]) { completed <- task }))

	id, err := s.Submit(4, MaxPriority)
	require.NoError(t, err)
	recv(t, be.calls)

	assert.False(t, s.Cancel(id))
	task, ok := s.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StateInFlight, task.State)

	be.release <- struct{}{}
	done := recv(t, completed)
	assert.Equal(t, id, done.ID)
	assert.Equal(t, 40, done.Result)
}

func TestScheduler_PauseResume(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process)

	_, err := s.Submit(1, DefaultPriority)
	require.NoError(t, err)
	waitTimer(t, clock)

	s.Pause()
	assert.True(t, s.Status().Paused)

	_, err = s.Submit(2, MaxPriority)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	assertNothing(t, be.calls)

	queued, inFlight, paused := s.Backlog()
	assert.Equal(t, 2, queued)
	assert.Zero(t, inFlight)
	assert.True(t, paused)

	s.Resume()
	waitTimer(t, clock)
	clock.Advance(testConfig().BatchTimeWindow)
	assert.Equal(t, []int{2, 1}, recv(t, be.calls).inputs)
}

func TestScheduler_Clear(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.SubmitAndWait(context.Background(), 1, DefaultPriority)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return s.Status().QueueLength == 1 }, waitLimit, time.Millisecond)
	_, err := s.SubmitMany([]int{2, 3}, DefaultPriority)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Clear())
	assert.ErrorIs(t, recv(t, errCh), ErrTaskCancelled)
	assert.Equal(t, 0, s.Status().QueueLength)

	clock.Advance(time.Second)
	assertNothing(t, be.calls)
}

func TestScheduler_CloseWaitsForInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxBatchSize = 1
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process)

	results := make(chan error, 2)
	go func() {
		_, err := s.SubmitAndWait(context.Background(), 1, MaxPriority)
		results <- err
	}()
	recv(t, be.calls)

	go func() {
		_, err := s.SubmitAndWait(context.Background(), 2, DefaultPriority)
		results <- err
	}()
	require.Eventually(t, func() bool { return s.Status().QueueLength == 1 }, waitLimit, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close(context.Background()) }()

	assert.ErrorIs(t, recv(t, results), ErrSchedulerClosed, "queued task ends on close")
	assertNothing(t, closed)

	be.release <- struct{}{}
	assert.NoError(t, recv(t, results), "in-flight task completes")
	assert.NoError(t, recv(t, closed))

	_, err := s.Submit(3, DefaultPriority)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.ErrorIs(t, s.Close(context.Background()), ErrSchedulerClosed)
}

func TestScheduler_CloseDeadlineCancelsProcessor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.SubmitAndWait(context.Background(), 1, MaxPriority)
		errCh <- err
	}()
	recv(t, be.calls)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	err := recv(t, errCh)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_ConcurrencyCap(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	cfg.MaxBatchSize = 1
	cfg.BatchTimeWindow = time.Millisecond

	s, err := New[int, int](context.Background(), cfg, func(ctx context.Context, in []int) ([]int, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return in, nil
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.SubmitAndWait(context.Background(), i, DefaultPriority)
			assert.NoError(t, err)
			assert.Equal(t, i, got)
		}(i)
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, waitLimit, time.Millisecond)
	for i := 0; i < 6; i++ {
		release <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	st := s.Status().Stats
	assert.Equal(t, uint64(6), st.TasksCompleted)
	assert.Equal(t, uint64(6), st.BatchesProcessed)
	assert.InDelta(t, 1.0, st.AvgBatchSize, 1e-9)
}

func TestScheduler_RateLimitedDispatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	cfg := testConfig()
	cfg.MaxBatchSize = 1
	cfg.BatchTimeWindow = 10 * time.Millisecond
	cfg.MaxBatchesPerSecond = 1
	cfg.Burst = 1
	s, _ := newTestSchedulerWithClock(t, clock, cfg, be.process)

	_, err := s.SubmitMany([]int{1, 2}, DefaultPriority)
	require.NoError(t, err)

	step := 50 * time.Millisecond
	first := advanceUntil(t, clock, be.calls, step)
	second := advanceUntil(t, clock, be.calls, step)

	assert.GreaterOrEqual(t, second.at.Sub(first.at), time.Second)
}

func TestScheduler_StatsAndTaskSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, false)
	batches := make(chan []Task[int, int], 1)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process,
		WithOnBatchComplete(func(tasks []Task[int, int]) { batches <- tasks }),
		WithIDGenerator(sequentialIDs()))

	s.Pause()
	ids, err := s.SubmitMany([]int{1, 2, 3}, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2", "task-3"}, ids)

	task, ok := s.GetTask(ids[0])
	require.True(t, ok)
	assert.Equal(t, MaxPriority, task.Priority, "priority is clamped")
	assert.Equal(t, StateQueued, task.State)

	s.Resume()
	waitTimer(t, clock)
	clock.Advance(testConfig().BatchTimeWindow)

	tasks := recv(t, batches)
	require.Len(t, tasks, 3)

	st := s.Status()
	assert.Equal(t, uint64(3), st.Stats.TasksSubmitted)
	assert.Equal(t, uint64(3), st.Stats.TasksCompleted)
	assert.Equal(t, uint64(1), st.Stats.BatchesProcessed)
	assert.InDelta(t, 3.0, st.Stats.AvgBatchSize, 1e-9)
	assert.Equal(t, 3, st.Stats.MaxQueueLength)
	assert.Equal(t, 0, st.InFlight)

	_, ok = s.GetTask(ids[0])
	assert.False(t, ok, "terminal tasks leave the scheduler")

	_, err = s.Await(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestScheduler_AwaitInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	be := newBackend(clock, true)
	s, _ := newTestSchedulerWithClock(t, clock, testConfig(), be.process)

	id, err := s.Submit(6, DefaultPriority)
	require.NoError(t, err)

	waitTimer(t, clock)
	clock.Advance(testConfig().BatchTimeWindow)
	recv(t, be.calls)

	go func() {
		time.Sleep(20 * time.Millisecond)
		be.release <- struct{}{}
	}()

	got, err := s.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 60, got)
}

func TestScheduler_AwaitContextCancelled(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), newBackend(clockwork.NewFakeClock(), false).process)

	id, err := s.Submit(1, DefaultPriority)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Await(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := s.GetTask(id)
	assert.True(t, ok, "giving up on a wait does not cancel the task")
}

func TestNew_Validation(t *testing.T) {
	process := func(_ context.Context, in []int) ([]int, error) { return in, nil }

	_, err := New[int, int](context.Background(), DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultConfig()
	bad.PriorityThreshold = 11
	_, err = New(context.Background(), bad, Processor[int, int](process))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(context.Background(), DefaultConfig(), Processor[int, int](process),
		WithOnTaskComplete(func(Task[string, int]) {}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return "task-" + strconv.FormatInt(n.Add(1), 10)
	}
}
