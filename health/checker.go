package health

import (
	"context"
	"time"
)

// Status represents the health status of a component.
// Larger values are worse.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component is functioning but under pressure.
	StatusDegraded
	// StatusUnhealthy indicates the component is not keeping up.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Worst returns the most severe of the given statuses, or StatusHealthy
// when none are given.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// Result contains the outcome of a health check.
type Result struct {
	Status  Status
	Message string

	// Details contains check-specific metrics such as usage ratios.
	Details map[string]any

	// Duration is how long the check took. Set by the Aggregator.
	Duration time.Duration

	Timestamp time.Time

	// Error is set for unhealthy results.
	Error error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration sets the duration on a result.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker is the interface for health checks.
//
// Contract:
// - Concurrency: Check must be safe for concurrent use.
// - Context: Check should return promptly once ctx is done.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts an ordinary function to a Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the name of this checker.
func (f *CheckerFunc) Name() string {
	return f.name
}

// Check performs the health check.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	return f.fn(ctx)
}

// Thresholds are usage ratios in (0, 1) at which a checker degrades and
// then fails.
type Thresholds struct {
	Warning  float64 `mapstructure:"warning" validate:"gte=0,lt=1"`
	Critical float64 `mapstructure:"critical" validate:"gte=0,lt=1"`
}

// DefaultThresholds returns 80% warning and 95% critical.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, Critical: 0.95}
}

func (t Thresholds) normalize() Thresholds {
	def := DefaultThresholds()
	if t.Warning <= 0 || t.Warning >= 1 {
		t.Warning = def.Warning
	}
	if t.Critical <= 0 || t.Critical >= 1 {
		t.Critical = def.Critical
	}
	if t.Critical < t.Warning {
		t.Critical = min(t.Warning+0.1, 0.99)
	}
	return t
}

// classify maps a usage ratio onto a Status.
func (t Thresholds) classify(ratio float64) Status {
	switch {
	case ratio >= t.Critical:
		return StatusUnhealthy
	case ratio >= t.Warning:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func checkContext(ctx context.Context) (Result, bool) {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err()), false
	default:
		return Result{}, true
	}
}
