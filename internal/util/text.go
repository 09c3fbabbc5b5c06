package util

import (
	"regexp"
	"strings"
)

var (
	reNonWord    = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// NormalizeWord lower-cases a phrase and strips everything that is not a
// letter, digit or space. Entity and triple identity is computed over the
// normalized form, so "Alice," and "alice" map to the same node.
func NormalizeWord(text string) string {
	cleaned := reNonWord.ReplaceAllString(strings.ToLower(text), " ")
	return strings.TrimSpace(reWhitespace.ReplaceAllString(cleaned, " "))
}

// SanitizePostgresText strips invalid UTF-8 and NUL bytes that Postgres
// rejects in text columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
