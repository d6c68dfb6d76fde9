package resilience

import "errors"

var (
	// ErrRateLimitExceeded is returned by RateLimiter.Wait and Execute
	// when no token is available in time.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	ErrBulkheadFull = errors.New("resilience: bulkhead full")

	// ErrTimeout wraps the deadline hit in Run; the message carries the limit.
	ErrTimeout = errors.New("resilience: timed out")

	// ErrPanic wraps a value recovered from an operation inside Run.
	ErrPanic = errors.New("resilience: operation panicked")
)
