// Package health reports whether the cache and the batch scheduler are
// keeping up with their load.
//
// A Checker reports a Status: Healthy, Degraded or Unhealthy. Two checkers
// cover the model-invocation layer:
//
//   - BudgetChecker watches a cache's item and memory budgets.
//   - BacklogChecker watches a scheduler's queue and pause state.
//
// # Basic Usage
//
//	budget := health.NewBudgetChecker(store, health.BudgetCheckerConfig{Name: "cache"})
//	backlog := health.NewBacklogChecker(sched, health.BacklogCheckerConfig{
//	    Name:           "scheduler",
//	    WarningQueued:  100,
//	    CriticalQueued: 1000,
//	})
//
// # Aggregating Health Checks
//
// Use Aggregator to run several checkers concurrently under one timeout:
//
//	agg := health.NewAggregator()
//	agg.Register("cache", budget)
//	agg.Register("scheduler", backlog)
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
package health
