package llm

import (
	"regexp"
	"strings"
)

var (
	fencePattern   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	wrapperPattern = regexp.MustCompile(`(?i)^(?:here(?:'s| is) (?:the |an? |your )?(?:improved|rewritten|revised|alternative|paraphrased)?\s*(?:query|version|question|answer|sub-query|paraphrase)?\s*:|improved query\s*:|rewritten query\s*:|rewritten\s*:|revised query\s*:|paraphrase\s*:|sub-query\s*:|query\s*:|answer\s*:)\s*`)
)

// CleanResponse strips the wrapper phrases, markdown fences and surrounding
// quotes models like to add around a one-shot rewrite, and collapses
// whitespace.
func CleanResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	for {
		next := strings.TrimSpace(wrapperPattern.ReplaceAllString(s, ""))
		if next == s {
			break
		}
		s = next
	}
	s = strings.Join(strings.Fields(s), " ")
	for len(s) >= 2 && isQuote(s[0]) && isQuote(s[len(s)-1]) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.Trim(s, "“”")
	return strings.TrimSpace(s)
}

func isQuote(b byte) bool {
	return b == '"' || b == '\'' || b == '`'
}
