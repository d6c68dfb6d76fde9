package cache

import (
	"errors"
	"os"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestValidateKey(t *testing.T) {
	for key, want := range map[string]error{
		"":                                      ErrInvalidKey,
		"   ":                                   ErrInvalidKey,
		"a\nb":                                  ErrInvalidKey,
		"a\rb":                                  ErrInvalidKey,
		strings.Repeat("ab", 32):                nil,
		strings.Repeat("k", MaxKeyLength):       nil,
		strings.Repeat("k", MaxKeyLength+1):     ErrKeyTooLong,
		"embed:text-embedding-3-small:9f86d081": nil,
	} {
		if got := ValidateKey(key); !errors.Is(got, want) {
			t.Errorf("ValidateKey(%.20q) = %v, want %v", key, got, want)
		}
	}
}

// Every key the default keyer produces is a valid store key.
func TestValidateKey_AcceptsKeyerOutput(t *testing.T) {
	keyer := NewDefaultKeyer()
	rapid.Check(t, func(t *rapid.T) {
		ns := rapid.String().Draw(t, "ns")
		desc := rapid.String().Draw(t, "desc")
		key, err := keyer.Key(ns, desc, nil)
		if err != nil {
			t.Skip("unencodable input")
		}
		if err := ValidateKey(key); err != nil {
			t.Fatalf("ValidateKey(%q) = %v", key, err)
		}
	})
}

func TestPersistenceError(t *testing.T) {
	var err error = &PersistenceError{Op: "save", Location: "/var/lib/modelops/cache.json", Err: os.ErrPermission}

	if !errors.Is(err, os.ErrPermission) {
		t.Error("cause not reachable through errors.Is")
	}
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "save" {
		t.Errorf("errors.As = %+v", perr)
	}
	if want := "cache: save snapshot /var/lib/modelops/cache.json: permission denied"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
