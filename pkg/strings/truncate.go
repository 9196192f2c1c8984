// Package strings holds small text helpers shared by the CLI and the tool
// executors.
package strings

import (
	"strings"
)

const (
	// DefaultDescriptionMaxLen is the description width in CLI tables.
	DefaultDescriptionMaxLen = 60

	// MaxBackendErrorLen bounds backend response excerpts quoted in errors.
	MaxBackendErrorLen = 256

	// MinTruncateLen leaves room for one character plus "...".
	MinTruncateLen = 4
)

// TruncateDescription collapses s onto one line and cuts it to at most maxLen
// runes, ending in "..." when shortened. maxLen below MinTruncateLen is
// raised to MinTruncateLen.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
