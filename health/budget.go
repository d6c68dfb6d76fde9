package health

import (
	"context"
	"fmt"
)

// BudgetSource reports usage against item and memory budgets.
// cache.Store implements it.
type BudgetSource interface {
	Budget() (items, maxItems int, bytes, maxBytes int64)
}

// BudgetCheckerConfig configures a BudgetChecker.
type BudgetCheckerConfig struct {
	// Name defaults to "cache".
	Name string

	// Thresholds apply to the larger of the item and memory usage ratios.
	// Default: 80% warning, 95% critical.
	Thresholds Thresholds
}

// BudgetChecker reports degraded or unhealthy when a cache nears its
// capacity budgets. A cache at its budget is still correct, but it is
// evicting on every write and its hit rate suffers.
type BudgetChecker struct {
	name       string
	src        BudgetSource
	thresholds Thresholds
}

// NewBudgetChecker creates a checker over src.
func NewBudgetChecker(src BudgetSource, config BudgetCheckerConfig) *BudgetChecker {
	if config.Name == "" {
		config.Name = "cache"
	}
	return &BudgetChecker{
		name:       config.Name,
		src:        src,
		thresholds: config.Thresholds.normalize(),
	}
}

// Name returns the name of this checker.
func (b *BudgetChecker) Name() string {
	return b.name
}

// Check compares current usage with the budgets.
func (b *BudgetChecker) Check(ctx context.Context) Result {
	if r, ok := checkContext(ctx); !ok {
		return r
	}

	items, maxItems, bytes, maxBytes := b.src.Budget()
	itemRatio := ratio(float64(items), float64(maxItems))
	memRatio := ratio(float64(bytes), float64(maxBytes))
	usage := max(itemRatio, memRatio)

	details := map[string]any{
		"items":                items,
		"max_items":            maxItems,
		"memory_bytes":         bytes,
		"max_memory_bytes":     maxBytes,
		"item_usage_percent":   itemRatio * 100,
		"memory_usage_percent": memRatio * 100,
	}

	switch b.thresholds.classify(usage) {
	case StatusUnhealthy:
		return Unhealthy(fmt.Sprintf("budget usage critical: %.1f%%", usage*100), ErrCheckFailed).WithDetails(details)
	case StatusDegraded:
		return Degraded(fmt.Sprintf("budget usage high: %.1f%%", usage*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("budget usage normal: %.1f%%", usage*100)).WithDetails(details)
	}
}

func ratio(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}
