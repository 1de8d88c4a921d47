package normalize

import "strings"

// Identifier reduces raw text to its ASCII decimal digits, keeping their order
// and any leading zeros. An empty result means "no identifier".
func Identifier(raw string) string {
	// Fast path: already canonical input is returned without allocating.
	if isDigits(raw) {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Region trims surrounding whitespace from a region code.
func Region(raw string) string {
	return strings.TrimSpace(raw)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
