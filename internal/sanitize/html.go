package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Text strips all HTML tags. The result is still HTML-escaped.
func Text(input string) string {
	return StrictPolicy.Sanitize(input)
}

// PlainText strips all HTML tags, decodes entities and collapses runs of
// whitespace. Use for listing text that is stored and displayed as text.
func PlainText(input string) string {
	return strings.Join(strings.Fields(html.UnescapeString(Text(input))), " ")
}

// Truncate shortens input to at most maxRunes runes, ending in Ellipsis when
// anything was cut. A non-positive limit disables truncation.
func Truncate(input string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(input) <= maxRunes {
		return input
	}
	keep := maxRunes - len(Ellipsis)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(input)
	return string(runes[:keep]) + Ellipsis
}
