package health

import "errors"

var (
	// ErrCheckFailed is attached to unhealthy results from the budget and
	// backlog checkers.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout marks a result whose checker outlived the
	// aggregator timeout.
	ErrCheckTimeout = errors.New("health: check timed out")

	// ErrCheckPanicked marks a result whose checker panicked.
	ErrCheckPanicked = errors.New("health: check panicked")

	ErrCheckerNotFound = errors.New("health: checker not found")
	ErrNoCheckers      = errors.New("health: no checkers registered")
)
