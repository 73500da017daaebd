package assistant

import (
	"regexp"
)

// Vendor responses embed inline citation tokens referencing knowledge-base
// chunks. They are meaningless to end users and are stripped before delivery.
var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[\d+:\d+:source\]`),
	regexp.MustCompile(`【\d+:\d+†source】`),
	regexp.MustCompile(`\[\d+:\d+\]`),
	regexp.MustCompile(`【\d+:\d+】`),
	regexp.MustCompile(`\(\d+:\d+\)`),
}

// CleanCitations removes citation-metadata tokens from a response.
func CleanCitations(text string) string {
	for _, p := range citationPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return text
}
