package agent

import (
	"regexp"
	"strings"
)

var (
	strongRe   = regexp.MustCompile(`\*\*([^*\n]+?)\*\*|__([^_\n]+?)__`)
	// emRe needs a non-word character before the opening star and no space inside
	// the markers, so "2 * 3" and "note*" are left alone.
	emRe       = regexp.MustCompile(`(^|[^\w*])\*([^*\s](?:[^*\n]*[^*\s])?)\*`)
	codeRe     = regexp.MustCompile("`+")
	headingRe  = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	bulletRe   = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•+]|\d+[.)])[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// SpeechText prepares model text for synthesis: paired markdown emphasis, headings and
// list markers are removed and runs of blank lines collapse to one.
func SpeechText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = strongRe.ReplaceAllString(s, "$1$2")
	s = emRe.ReplaceAllString(s, "$1$2")
	s = codeRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
