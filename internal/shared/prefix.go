package shared

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// SanitizePrefix turns a session id into a filename prefix ending in '_'.
// ASCII letters, digits, '-' and '_' pass through; anything else becomes '-'
// and a short hash of the original id is appended, so ids that differ only in
// replaced characters ("a.b", "a:b", "a-b") keep distinct prefixes.
// Empty input yields "".
func SanitizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	var b strings.Builder
	replaced := false
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
			replaced = true
		}
	}
	if replaced {
		sum := blake3.Sum256([]byte(prefix))
		b.WriteByte('-')
		b.WriteString(hex.EncodeToString(sum[:4]))
	}
	safe := b.String()
	if !strings.HasSuffix(safe, "_") {
		safe += "_"
	}
	return safe
}
