// Package cache provides a generic, budget-bounded result cache.
//
// A Store[V] keeps values under an item budget and a memory budget, expires
// them by TTL, evicts by LRU or LFU under pressure, and snapshots its live
// entries through a Snapshotter (a local file or a Redis key). Keys are
// derived by a Keyer from a namespace, a request descriptor and parameters
// using SHA-256 over canonical JSON.
package cache
