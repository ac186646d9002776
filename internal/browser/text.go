package browser

import (
	"strings"
	"unicode"
)

// CleanText normalizes extracted text: non-breaking and other exotic spaces
// become plain spaces, runs of whitespace collapse to one, and leading and
// trailing whitespace is trimmed. Scraped sites pad visible text with layout
// whitespace that has no business in output rows.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
