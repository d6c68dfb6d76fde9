package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig sizes a Bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of slots. Default: 10
	MaxConcurrent int

	// MaxWait bounds how long Acquire blocks for a slot. Zero means
	// Acquire fails at once when the bulkhead is full.
	MaxWait time.Duration
}

// Bulkhead caps the number of operations running at once. The batch
// scheduler holds one slot per in-flight batch.
type Bulkhead struct {
	size    int64
	maxWait time.Duration
	sem     *semaphore.Weighted

	held     atomic.Int64
	peak     atomic.Int64
	rejected atomic.Int64
}

func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	size := int64(config.MaxConcurrent)
	return &Bulkhead{
		size:    size,
		maxWait: config.MaxWait,
		sem:     semaphore.NewWeighted(size),
	}
}

// TryAcquire takes a slot without blocking. A false return is not counted
// as a rejection; the scheduler simply tries again on its next tick.
func (b *Bulkhead) TryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.took()
	return true
}

// Acquire waits up to MaxWait for a slot. It returns ErrBulkheadFull when
// none frees up in time, or ctx.Err() if ctx ends first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.TryAcquire() {
		return nil
	}
	if b.maxWait <= 0 {
		b.rejected.Add(1)
		return ErrBulkheadFull
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()
	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			b.rejected.Add(1)
			return ErrBulkheadFull
		}
		return err
	}
	b.took()
	return nil
}

func (b *Bulkhead) took() {
	n := b.held.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Release frees a slot. Calls without a matching acquire are ignored.
func (b *Bulkhead) Release() {
	for {
		n := b.held.Load()
		if n <= 0 {
			return
		}
		if b.held.CompareAndSwap(n, n-1) {
			b.sem.Release(1)
			return
		}
	}
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Active is the number of slots currently held.
func (b *Bulkhead) Active() int { return int(b.held.Load()) }

// BulkheadMetrics is a point-in-time view of a Bulkhead.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

func (b *Bulkhead) Metrics() BulkheadMetrics {
	active := b.held.Load()
	return BulkheadMetrics{
		Active:        int(active),
		MaxActive:     int(b.peak.Load()),
		Available:     int(b.size - active),
		MaxConcurrent: int(b.size),
		Rejected:      b.rejected.Load(),
	}
}
