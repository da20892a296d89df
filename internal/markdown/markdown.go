// Package markdown reduces model output to plain text for chat clients
// that do not render Markdown.
package markdown

import (
	"regexp"
	"strings"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules run in order. Every rule either leaves the text unchanged or
// makes it strictly shorter, so repeating them reaches a fixed point.
var rules = []rule{
	{regexp.MustCompile("(?s)```.*?```"), ""},
	{regexp.MustCompile(`(?m)^[ \t]*(?:[-*_][ \t]*){3,}$`), ""},
	{regexp.MustCompile(`(?m)^#+[ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*[*+-][ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`), ""},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile(`~~(.*?)~~`), "$1"},
	{regexp.MustCompile(`\[(.*?)\]\(.*?\)`), "$1"},
	{regexp.MustCompile(`\n\s*\n`), "\n\n"},
}

// Strip removes headings, emphasis, strikethrough, link targets, list
// markers, fenced code blocks and horizontal rules, collapses runs of
// blank lines, and trims the result. Strip is idempotent.
func Strip(text string) string {
	for {
		out := text
		for _, r := range rules {
			out = r.re.ReplaceAllString(out, r.repl)
		}
		out = strings.TrimSpace(out)
		if out == text {
			return out
		}
		text = out
	}
}
