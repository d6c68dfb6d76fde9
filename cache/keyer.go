package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives cache keys. Implementations must be deterministic and safe
// for concurrent use.
type Keyer interface {
	// Key derives a key from a namespace (e.g. a model id), a request
	// descriptor (e.g. a normalized prompt) and optional parameters.
	Key(namespace string, descriptor any, params map[string]any) (string, error)
}

// KeyerFunc adapts a function to a Keyer.
type KeyerFunc func(namespace string, descriptor any, params map[string]any) (string, error)

func (f KeyerFunc) Key(namespace string, descriptor any, params map[string]any) (string, error) {
	return f(namespace, descriptor, params)
}

// DefaultKeyer hashes requests with SHA-256.
type DefaultKeyer struct{}

func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns the lowercase hex SHA-256 of the JSON object
// {"namespace":..,"params":..,"request":..}. encoding/json emits map keys
// in sorted order at every depth, so equal inputs hash equally whatever
// their insertion order. Nil params hash the same as empty params.
func (k *DefaultKeyer) Key(namespace string, descriptor any, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(map[string]any{
		"namespace": namespace,
		"params":    params,
		"request":   descriptor,
	})
	if err != nil {
		return "", fmt.Errorf("cache: encode key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

var (
	_ Keyer = (*DefaultKeyer)(nil)
	_ Keyer = KeyerFunc(nil)
)
