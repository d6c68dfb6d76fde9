package batch

import "time"

// State is a task's lifecycle phase.
type State int

const (
	StateQueued State = iota
	StateInFlight
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the task has left the scheduler.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Task is a point-in-time copy of one submitted unit of work.
type Task[I, R any] struct {
	ID          string
	Input       I
	Priority    int
	State       State
	SubmittedAt time.Time

	// StartedAt is when the latest attempt was dispatched.
	StartedAt  time.Time
	FinishedAt time.Time

	Result     R
	Err        error
	RetryCount int

	// NotBefore is the earliest dispatch time of a retried task.
	NotBefore time.Time
}

// task is the scheduler's mutable record. Fields of the embedded Task are
// guarded by the scheduler's mutex until done is closed.
type task[I, R any] struct {
	Task[I, R]
	seq  uint64
	done chan struct{}
}

// dispatchOrder sorts by priority, highest first, then by submission order.
func dispatchOrder[I, R any](a, b *task[I, R]) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

func snapshots[I, R any](tasks []*task[I, R]) []Task[I, R] {
	out := make([]Task[I, R], len(tasks))
	for i, t := range tasks {
		out[i] = t.Task
	}
	return out
}
