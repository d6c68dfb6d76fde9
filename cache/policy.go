package cache

import "time"

// NoExpiration passed as a TTL stores a value that never expires.
const NoExpiration time.Duration = -1

// Policy configures entry lifetimes.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, entries never expire by default.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Longer TTLs, including
	// NoExpiration, are clamped to this. If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default lifetime policy.
// DefaultTTL: 24 hours, MaxTTL: none
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 24 * time.Hour,
	}
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
// Zero selects DefaultTTL and a negative override means no expiry.
// A result of zero means the entry never expires.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	switch {
	case ttl == 0:
		ttl = p.DefaultTTL
	case ttl < 0:
		ttl = 0
	}

	// Clamp to MaxTTL if set
	if p.MaxTTL > 0 && (ttl == 0 || ttl > p.MaxTTL) {
		ttl = p.MaxTTL
	}

	return ttl
}

// ExpiresAt returns the absolute expiry for a TTL produced by EffectiveTTL,
// or the zero time when the entry never expires.
func (p Policy) ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
