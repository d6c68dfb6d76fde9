package batch

import (
	"fmt"
	"time"
)

// Task priorities. Higher values are dispatched first.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// ClampPriority limits p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

// Config configures a Scheduler.
//
// Zero values are taken literally, so a zero BatchTimeWindow dispatches on
// the next timer tick and a zero MaxRetries fails a task on its first error.
// Only Name, MaxConcurrent, MaxBatchSize, Timeout and Burst fall back to
// DefaultConfig when zero. Start from DefaultConfig when only a few fields
// need changing.
type Config struct {
	// Name identifies the scheduler in logs, metrics and spans.
	// Default: "batch"
	Name string `mapstructure:"name"`

	// MaxConcurrent is the maximum number of batches in flight.
	// Default: 3
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=0"`

	// MaxBatchSize is the maximum number of tasks per batch.
	// Default: 10
	MaxBatchSize int `mapstructure:"max_batch_size" validate:"gte=0"`

	// BatchTimeWindow is the debounce window used to accumulate a batch.
	BatchTimeWindow time.Duration `mapstructure:"batch_time_window" validate:"gte=0"`

	// MaxRetries is how many times a failed task is re-queued.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryDelay is the base backoff. Retry n waits RetryDelay·2^(n-1).
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`

	// PriorityThreshold is the priority at or above which a submission
	// skips the debounce window.
	PriorityThreshold int `mapstructure:"priority_threshold" validate:"gte=0,lte=10"`

	// Timeout bounds one processor call.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// MaxBatchesPerSecond paces dispatch for rate-limited backends.
	// Zero means unlimited.
	MaxBatchesPerSecond float64 `mapstructure:"max_batches_per_second" validate:"gte=0"`

	// Burst is the number of batches that may start back to back when
	// MaxBatchesPerSecond is set.
	// Default: 1
	Burst int `mapstructure:"burst" validate:"gte=0"`
}

// DefaultConfig returns the stock scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Name:              "batch",
		MaxConcurrent:     3,
		MaxBatchSize:      10,
		BatchTimeWindow:   200 * time.Millisecond,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		PriorityThreshold: 8,
		Timeout:           30 * time.Second,
		Burst:             1,
	}
}

// Validate rejects negative values and thresholds outside the priority range.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrent < 0, c.MaxBatchSize < 0, c.MaxRetries < 0, c.Burst < 0:
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidConfig)
	case c.BatchTimeWindow < 0, c.RetryDelay < 0, c.Timeout < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.PriorityThreshold < MinPriority || c.PriorityThreshold > MaxPriority:
		return fmt.Errorf("%w: priority threshold %d outside [%d, %d]",
			ErrInvalidConfig, c.PriorityThreshold, MinPriority, MaxPriority)
	case c.MaxBatchesPerSecond < 0:
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.Burst == 0 {
		c.Burst = d.Burst
	}
	return c
}
