// Package resilience provides the failure-handling primitives used by the
// batch scheduler when it talks to a slow, rate-limited backend.
//
// # Patterns
//
//   - Backoff: computes retry delays (exponential, linear, constant) for a
//     given attempt number. The scheduler re-arms its dispatch timer with it.
//
//   - Timeout: bounds the wall-clock duration of an operation and reports
//     ErrTimeout when the bound is hit.
//
//   - Bulkhead: limits the number of concurrently running operations. The
//     scheduler holds one slot per in-flight batch.
//
//   - Rate Limiter: paces operations with a token bucket.
//
// # Usage
//
//	backoff := resilience.NewBackoff(resilience.BackoffConfig{
//	    InitialDelay: 100 * time.Millisecond,
//	    Multiplier:   2.0,
//	})
//	backoff.Delay(1) // 100ms
//	backoff.Delay(2) // 200ms
//
//	slots := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 3})
//	if slots.TryAcquire() {
//	    go func() {
//	        defer slots.Release()
//	        results, err := resilience.Run(ctx, timeout, processBatch)
//	        ...
//	    }()
//	}
package resilience
