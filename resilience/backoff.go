package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// String returns the strategy name.
func (s BackoffStrategy) String() string {
	switch s {
	case BackoffExponential:
		return "exponential"
	case BackoffLinear:
		return "linear"
	case BackoffConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// BackoffConfig configures retry delays.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is the growth factor for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% random delay on top of the computed value.
	// Default: false
	Jitter bool
}

// Backoff computes retry delays. It is stateless and safe for concurrent use.
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a backoff calculator.
func NewBackoff(config BackoffConfig) *Backoff {
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.MaxDelay < 0 {
		config.MaxDelay = 0
	}
	return &Backoff{config: config}
}

// Delay returns the wait before retry number attempt (1-based).
// For exponential backoff this is InitialDelay * Multiplier^(attempt-1).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration

	switch b.config.Strategy {
	case BackoffConstant:
		delay = b.config.InitialDelay

	case BackoffLinear:
		delay = b.config.InitialDelay * time.Duration(attempt)

	default:
		multiplier := math.Pow(b.config.Multiplier, float64(attempt-1))
		scaled := float64(b.config.InitialDelay) * multiplier
		if scaled > math.MaxInt64 {
			scaled = math.MaxInt64
		}
		delay = time.Duration(scaled)
	}

	if b.config.MaxDelay > 0 && delay > b.config.MaxDelay {
		delay = b.config.MaxDelay
	}

	if b.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// Config returns the backoff configuration.
func (b *Backoff) Config() BackoffConfig {
	return b.config
}
