// Package logutil formats user-authored text for log lines.
package logutil

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars bounds note titles and tag names in log attributes.
const DefaultMaxChars = 48

// TruncateForLog returns a single-line truncated preview for unstructured values.
// Truncation counts runes so multi-byte text is never split.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\r", "")
	normalized = strings.ReplaceAll(normalized, "\n", "\\n")
	if maxChars <= 0 || utf8.RuneCountInString(normalized) <= maxChars {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:maxChars]) + "... [truncated]"
}

// Title is TruncateForLog with DefaultMaxChars.
func Title(value string) string {
	return TruncateForLog(value, DefaultMaxChars)
}
