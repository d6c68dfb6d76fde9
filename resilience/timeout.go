package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout wraps operations with a timeout.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs the operation with a timeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Run(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

type outcome[T any] struct {
	value T
	err   error
}

// Run races op against t's deadline and returns op's result.
//
// The operation's context is cancelled when the deadline passes; an operation
// that ignores cancellation keeps running in the background and its result is
// discarded. A panic inside op is recovered and reported as ErrPanic.
func Run[T any](ctx context.Context, t *Timeout, op func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan outcome[T], 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := op(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	var res outcome[T]
	select {
	case res = <-done:
	case <-ctx.Done():
	}

	// A result that lands after the deadline is discarded.
	if err := ctx.Err(); err != nil {
		var zero T
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, t.config.Timeout)
		}
		if res.err == nil {
			return zero, err
		}
		return zero, res.err
	}
	return res.value, res.err
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
