package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ExpandEnvStrict substitutes environment variables in s.
//
// ${VAR} must be set or ErrMissingEnv is returned, naming every missing
// variable once. Bare $VAR expands to "" when unset. $$ is a literal $, and
// a $ not followed by a name is kept as is.
func ExpandEnvStrict(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var (
		b       strings.Builder
		missing []string
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}

		switch next := s[i+1]; {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			name := ""
			if end >= 0 {
				name = s[i+2 : i+2+end]
			}
			if !validEnvName(name) {
				b.WriteByte('$')
				continue
			}
			if v, ok := os.LookupEnv(name); ok {
				b.WriteString(v)
			} else if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
			i += 2 + end
		default:
			n := envNameLen(s[i+1:])
			if n == 0 {
				b.WriteByte('$')
				continue
			}
			b.WriteString(os.Getenv(s[i+1 : i+1+n]))
			i += n
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return b.String(), nil
}

func validEnvName(name string) bool {
	return name != "" && envNameLen(name) == len(name)
}

// envNameLen returns the length of the identifier at the start of s.
func envNameLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z':
		case i > 0 && '0' <= c && c <= '9':
		default:
			return i
		}
	}
	return len(s)
}
