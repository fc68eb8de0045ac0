package text

import (
	"strings"
)

const ellipsis = "..."

// Normalize collapses whitespace runs into a single space, trims both ends and lower-cases
// the result, so whitespace and case differences never affect substring comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Contains reports whether needle is a substring of haystack after normalization.
// An empty normalized needle never matches.
func Contains(haystack, needle string) bool {
	n := Normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), n)
}

// Truncate cuts s to at most maxChars characters. The ellipsis marker counts toward the
// budget.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars <= len(ellipsis) {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-len(ellipsis)]) + ellipsis
}
