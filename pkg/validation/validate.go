// Package validation holds the synchronous input checks and text
// sanitization run before any mutation write. Invalid input fails here;
// no partial write ever happens.
package validation

import (
	"regexp"
	"strings"
	"unicode"

	"feedsync/pkg/models"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// RequireID rejects empty or whitespace-only identifier fields.
func RequireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return models.Invalid(field, "must not be empty")
	}
	return nil
}

// SanitizeBody strips control characters and markup tags, trims surrounding
// whitespace and silently truncates to max runes. Newlines survive; other
// control characters do not.
func SanitizeBody(s string, max int) string {
	s = tagPattern.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	return Truncate(out, max)
}

// Truncate cuts s to max runes. Zero or negative max means no cap.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
