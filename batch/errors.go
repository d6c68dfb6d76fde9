package batch

import (
	"errors"
	"fmt"
)

// Sentinel errors for scheduler operations.
var (
	// ErrTaskNotFound is returned by Await for an id that is not queued or
	// in flight.
	ErrTaskNotFound = errors.New("batch: task not found")

	// ErrTaskCancelled ends a task removed by Cancel or Clear.
	ErrTaskCancelled = errors.New("batch: task cancelled")

	// ErrSchedulerClosed is returned by Submit after Close, and ends tasks
	// still queued when Close runs.
	ErrSchedulerClosed = errors.New("batch: scheduler closed")

	// ErrBatchTimeout marks a batch that exceeded Config.Timeout.
	ErrBatchTimeout = errors.New("batch: batch timed out")

	// ErrResultMismatch marks a processor that returned a different number
	// of results than it was given inputs.
	ErrResultMismatch = errors.New("batch: result count does not match input count")

	// ErrRetryExhausted matches every RetryExhaustedError.
	ErrRetryExhausted = errors.New("batch: retries exhausted")

	// ErrInvalidConfig indicates a rejected Config or option.
	ErrInvalidConfig = errors.New("batch: invalid config")
)

// BatchProcessingError wraps a processor failure: a returned error, a
// recovered panic, or a result count mismatch.
type BatchProcessingError struct {
	Err error
}

func (e *BatchProcessingError) Error() string {
	return fmt.Sprintf("batch: processor failed: %v", e.Err)
}

func (e *BatchProcessingError) Unwrap() error { return e.Err }

// RetryExhaustedError is the terminal error of a task whose batch failed
// on every attempt. Err is the failure of the last attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("batch: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}
