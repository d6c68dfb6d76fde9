package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/modelops/observe"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds a CheckAll run. Default: 10 seconds
	Timeout time.Duration

	// Parallel runs health checks concurrently when true.
	// Default: true
	Parallel bool

	// Logger receives a warning whenever the overall status changes.
	// Default: no logging.
	Logger observe.Logger
}

// Aggregator combines multiple health checkers into a single composite check.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string // registration order

	lastMu sync.Mutex
	last   Status
	seen   bool
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{
		Timeout:  10 * time.Second,
		Parallel: true,
	}
	if len(config) > 0 {
		cfg = config[0]
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10 * time.Second
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	return &Aggregator{
		config:   cfg,
		checkers: make(map[string]Checker),
	}
}

// Register adds a health checker, replacing any checker of the same name.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// Unregister removes a health checker from the aggregator.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// CheckerNames returns the names of all registered checkers in
// registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.order))
	copy(names, a.order)
	return names
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrCheckerNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, checker), nil
}

// CheckAll runs all registered health checks and returns the results keyed
// by registration name. A check that outlives the timeout is reported as
// unhealthy with ErrCheckTimeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	names := make([]string, len(a.order))
	copy(names, a.order)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = a.checkers[name]
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(names))
	if len(names) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	out := make([]Result, len(checkers))
	var g errgroup.Group
	if !a.config.Parallel {
		g.SetLimit(1)
	}
	for i, checker := range checkers {
		g.Go(func() error {
			out[i] = runCheck(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		results[name] = out[i]
	}
	return results
}

// OverallStatus returns the worst status among results, or StatusHealthy
// when there are none.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, result := range results {
		overall = Worst(overall, result.Status)
	}
	return overall
}

// observeStatus logs transitions of the overall status.
func (a *Aggregator) observeStatus(ctx context.Context, status Status, results map[string]Result) {
	a.lastMu.Lock()
	prev, seen := a.last, a.seen
	a.last, a.seen = status, true
	a.lastMu.Unlock()

	if seen && prev == status {
		return
	}
	if !seen && status == StatusHealthy {
		return
	}

	fields := []observe.Field{
		{Key: "status", Value: status.String()},
		{Key: "previous", Value: prev.String()},
	}
	for name, r := range results {
		if r.Status != StatusHealthy {
			fields = append(fields, observe.Field{Key: "check." + name, Value: r.Message})
		}
	}
	a.config.Logger.Warn(ctx, "health status changed", fields...)
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- Result{
					Status:    StatusUnhealthy,
					Message:   fmt.Sprintf("check panicked: %v", r),
					Error:     ErrCheckPanicked,
					Duration:  time.Since(start),
					Timestamp: start,
				}
			}
		}()
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}

// Checker returns the aggregator as a single Checker, so aggregators can
// be nested.
func (a *Aggregator) Checker() Checker {
	return &aggregatorChecker{agg: a}
}

type aggregatorChecker struct {
	agg *Aggregator
}

func (c *aggregatorChecker) Name() string {
	return "aggregate"
}

func (c *aggregatorChecker) Check(ctx context.Context) Result {
	results := c.agg.CheckAll(ctx)
	if len(results) == 0 {
		r := Degraded("no checks registered")
		r.Error = ErrNoCheckers
		return r
	}

	status := c.agg.OverallStatus(results)
	c.agg.observeStatus(ctx, status, results)

	details := make(map[string]any, len(results))
	for name, result := range results {
		details[name] = map[string]any{
			"status":   result.Status.String(),
			"message":  result.Message,
			"duration": result.Duration.String(),
		}
	}

	var message string
	switch status {
	case StatusHealthy:
		message = "all checks passed"
	case StatusDegraded:
		message = "some checks degraded"
	case StatusUnhealthy:
		message = "some checks failed"
	}

	return Result{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}
