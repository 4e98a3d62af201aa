package extract

import (
	"regexp"
	"strings"
)

// SentinelUnrecoverable is returned when a page parsed but yielded no text.
const SentinelUnrecoverable = "Could not extract full content from the URL"

var fillerPhrases = []string{
	"Please enable JavaScript to view this site.",
	"Advertisement",
	"Please turn JavaScript on and reload the page.",
	"Sign up for our newsletter",
	"Subscribe to our newsletter",
}

var fillerPattern = buildFillerPattern(fillerPhrases)

func buildFillerPattern(phrases []string) *regexp.Regexp {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
}

// Clean collapses whitespace and strips boilerplate phrases. The result is a
// fixed point: Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	out := collapse(s)
	for {
		next := collapse(fillerPattern.ReplaceAllString(out, ""))
		if next == out {
			return out
		}
		out = next
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
