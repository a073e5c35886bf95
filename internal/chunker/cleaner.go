package chunker

import (
	"regexp"
	"strings"
)

var (
	bulletPattern     = regexp.MustCompile(`(?m)^\s*[-*]\s*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText strips list bullets and emphasis markers and collapses runs of
// whitespace to a single space.
func CleanText(text string) string {
	text = bulletPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "*", "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
