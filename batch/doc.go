// Package batch aggregates small, independently submitted units of work into
// bounded batches and runs them through one caller-supplied Processor.
//
// A Scheduler holds a priority queue of tasks. Dispatch is driven by a single
// timer on an injected clock: a submission arms the debounce window, a task at
// or above the priority threshold dispatches immediately when a concurrency
// slot is free, and a failed batch re-queues its tasks with an exponential
// backoff. At most MaxConcurrent batches are in flight at once.
//
// A task is always in exactly one of three phases: queued, in flight, or
// terminal. Terminal tasks leave the scheduler; their outcome is delivered to
// SubmitAndWait or Await callers and to the optional callbacks.
//
// Failures never stop the scheduler. A processor error, panic or timeout only
// affects the batch that was in flight, and a task that runs out of retries
// ends with a RetryExhaustedError.
package batch
