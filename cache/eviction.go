package cache

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// EvictionPolicy selects which entries are removed under budget pressure.
type EvictionPolicy string

const (
	// EvictLRU removes the least recently accessed entry first.
	EvictLRU EvictionPolicy = "lru"
	// EvictLFU removes the least frequently accessed entry first.
	EvictLFU EvictionPolicy = "lfu"
)

// ParseEvictionPolicy parses "lru" or "lfu". Empty selects LRU.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch EvictionPolicy(s) {
	case "", EvictLRU:
		return EvictLRU, nil
	case EvictLFU:
		return EvictLFU, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// evictionHeadroom is the fraction of each budget eviction drains down to.
const evictionHeadroom = 0.8

type entry[V any] struct {
	key            string
	value          V
	expiresAt      time.Time // zero: never
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	sizeBytes      int64

	// insertSeq and touchSeq order entries whose timestamps tie.
	insertSeq uint64
	touchSeq  uint64
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// compareLRU orders by recency of access, oldest first.
func compareLRU[V any](a, b *entry[V]) int {
	if c := a.lastAccessedAt.Compare(b.lastAccessedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.touchSeq, b.touchSeq); c != 0 {
		return c
	}
	return compareAge(a, b)
}

// compareLFU orders by access count, least used first.
func compareLFU[V any](a, b *entry[V]) int {
	if c := cmp.Compare(a.accessCount, b.accessCount); c != 0 {
		return c
	}
	return compareAge(a, b)
}

func compareAge[V any](a, b *entry[V]) int {
	if c := a.createdAt.Compare(b.createdAt); c != 0 {
		return c
	}
	return cmp.Compare(a.insertSeq, b.insertSeq)
}

// evictionOrder returns all entries in the order the policy removes them.
func evictionOrder[V any](policy EvictionPolicy, entries map[string]*entry[V]) []*entry[V] {
	out := make([]*entry[V], 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	if policy == EvictLFU {
		slices.SortFunc(out, compareLFU[V])
	} else {
		slices.SortFunc(out, compareLRU[V])
	}
	return out
}

// fitsLocked reports whether an entry of size required can be inserted
// with both budgets left at or under the headroom mark.
func (s *Store[V]) fitsLocked(required int64) bool {
	n := len(s.entries)
	return n+1 <= s.maxItems &&
		s.memBytes+required <= s.maxBytes &&
		float64(n) <= evictionHeadroom*float64(s.maxItems) &&
		float64(s.memBytes) <= evictionHeadroom*float64(s.maxBytes)
}

// evictLocked removes entries in policy order until fitsLocked(required)
// holds or the store is empty.
func (s *Store[V]) evictLocked(required int64) (items int, bytes int64) {
	if len(s.entries) == 0 {
		return 0, 0
	}
	for _, e := range evictionOrder(s.eviction, s.entries) {
		if s.fitsLocked(required) {
			break
		}
		s.removeLocked(e)
		items++
		bytes += e.sizeBytes
	}
	return items, bytes
}

func (s *Store[V]) removeLocked(e *entry[V]) {
	delete(s.entries, e.key)
	s.memBytes -= e.sizeBytes
}
