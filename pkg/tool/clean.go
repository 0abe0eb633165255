package tool

import (
	"regexp"
	"strings"
)

// fenceRe matches a fenced code block, capturing the body. The language
// tag after the opening fence is dropped.
var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n?(.*?)```")

// CleanText strips Markdown decoration the analysis model tends to wrap
// its output in: code fences (keeping their content) and bold markers.
func CleanText(s string) string {
	s = fenceRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "**", "")
	return strings.TrimSpace(s)
}

// TruncateRunes hard-caps a string at n runes without splitting a
// multi-byte character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
