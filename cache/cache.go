package cache

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")

	// ErrValueTooLarge is returned by Set when a single value exceeds the
	// whole memory budget. The store is left unchanged.
	ErrValueTooLarge = errors.New("cache: value exceeds memory budget")

	// ErrClosed is returned by Set and Close after the store was closed.
	ErrClosed = errors.New("cache: store is closed")

	// ErrNoSnapshot is returned by a Snapshotter when nothing was saved yet.
	ErrNoSnapshot = errors.New("cache: no snapshot")

	// ErrInvalidPolicy indicates an unknown eviction policy name.
	ErrInvalidPolicy = errors.New("cache: invalid eviction policy")

	// ErrInvalidConfig indicates a negative budget or interval.
	ErrInvalidConfig = errors.New("cache: invalid config")
)

// PersistenceError reports a snapshot read, write or decode failure.
// It is logged and exposed through Store.LastPersistenceError, never
// returned from SaveToDisk or LoadFromDisk.
type PersistenceError struct {
	Op       string // "save" or "load"
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cache: %s snapshot %s: %v", e.Op, e.Location, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
