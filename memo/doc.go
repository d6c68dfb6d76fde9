// Package memo puts a cache in front of a batch scheduler.
//
// A Memoizer derives a deterministic key from each request, answers from the
// cache on a hit, and on a miss submits the request to the scheduler, waits
// for the result and stores it. Identical concurrent misses share one
// scheduler task. Failed results are never cached.
package memo
