package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var space = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace into single spaces and trims the ends
func CleanText(text string) string {
	return strings.TrimSpace(space.ReplaceAllString(text, " "))
}

// TruncateText shortens text to at most maxRunes runes, cutting at the last
// word boundary when there is one, and marks the cut with "..."
func TruncateText(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	truncated := string([]rune(text)[:maxRunes])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
