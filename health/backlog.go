package health

import (
	"context"
	"fmt"
)

// BacklogSource reports a scheduler's queue state.
// batch.Scheduler implements it.
type BacklogSource interface {
	Backlog() (queued, inFlight int, paused bool)
}

// BacklogCheckerConfig configures a BacklogChecker.
type BacklogCheckerConfig struct {
	// Name defaults to "scheduler".
	Name string

	// WarningQueued is the queue length that degrades the check. Default: 100.
	WarningQueued int `mapstructure:"warning_queued" validate:"gte=0"`

	// CriticalQueued is the queue length that fails the check. Default: 1000.
	CriticalQueued int `mapstructure:"critical_queued" validate:"gte=0"`
}

// BacklogChecker reports on a scheduler's queue. A paused scheduler is
// degraded regardless of its queue length.
type BacklogChecker struct {
	name     string
	src      BacklogSource
	warning  int
	critical int
}

// NewBacklogChecker creates a checker over src.
func NewBacklogChecker(src BacklogSource, config BacklogCheckerConfig) *BacklogChecker {
	if config.Name == "" {
		config.Name = "scheduler"
	}
	if config.WarningQueued <= 0 {
		config.WarningQueued = 100
	}
	if config.CriticalQueued <= 0 {
		config.CriticalQueued = 1000
	}
	if config.CriticalQueued < config.WarningQueued {
		config.CriticalQueued = config.WarningQueued
	}
	return &BacklogChecker{
		name:     config.Name,
		src:      src,
		warning:  config.WarningQueued,
		critical: config.CriticalQueued,
	}
}

// Name returns the name of this checker.
func (b *BacklogChecker) Name() string {
	return b.name
}

// Check inspects the queue length and pause state.
func (b *BacklogChecker) Check(ctx context.Context) Result {
	if r, ok := checkContext(ctx); !ok {
		return r
	}

	queued, inFlight, paused := b.src.Backlog()
	details := map[string]any{
		"queued":          queued,
		"in_flight":       inFlight,
		"paused":          paused,
		"warning_queued":  b.warning,
		"critical_queued": b.critical,
	}

	switch {
	case queued >= b.critical:
		return Unhealthy(fmt.Sprintf("backlog critical: %d queued", queued), ErrCheckFailed).WithDetails(details)
	case paused:
		return Degraded(fmt.Sprintf("scheduler paused: %d queued", queued)).WithDetails(details)
	case queued >= b.warning:
		return Degraded(fmt.Sprintf("backlog high: %d queued", queued)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("backlog normal: %d queued, %d in flight", queued, inFlight)).WithDetails(details)
	}
}
