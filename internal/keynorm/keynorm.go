// Package keynorm canonicalizes textual natural keys so staging values and
// warehouse dimension values compare equal when they name the same thing.
//
// Both sides of a join must go through Normalize. Normalizing only one side
// does not fail; it silently leaves rows unresolved.
package keynorm

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of s:
//
//   - Unicode NFKD decomposition with combining marks removed ("São" -> "Sao")
//   - characters outside [A-Za-z0-9] and whitespace removed
//   - internal whitespace collapsed to one space, edges trimmed
//   - upper-cased
//
// Normalize is deterministic and idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// transform.Chain holds state, so a fresh chain per call keeps Normalize
	// safe for concurrent use.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))

	pendingSpace := false
	for _, r := range decomposed {
		switch {
		case isASCIIAlnum(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			// dropped
		}
	}
	return b.String()
}

// NormalizeAny normalizes v when it is textual and returns "" for nil.
// Non-text values are formatted with their default representation first.
func NormalizeAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return Normalize(t)
	case []byte:
		return Normalize(string(t))
	default:
		return Normalize(fmt.Sprint(v))
	}
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
