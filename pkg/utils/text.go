package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true, "in": true,
	"that": true, "have": true, "has": true, "it": true, "for": true, "not": true,
	"on": true, "with": true, "as": true, "you": true, "do": true, "does": true,
	"at": true, "this": true, "but": true, "by": true, "from": true, "or": true,
	"what": true, "how": true, "why": true, "when": true, "which": true, "who": true,
	"can": true, "will": true, "its": true, "their": true, "about": true, "into": true,
	"any": true, "all": true, "our": true, "your": true, "there": true, "than": true,
}

func IsStopWord(word string) bool {
	return stopWords[strings.ToLower(word)]
}

// Tokenize lowercases s and splits it into runs of letters and digits.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// ContentWords returns the distinct tokens of s longer than two runes that
// are not stop words, in first-seen order.
func ContentWords(s string) []string {
	tokens := Tokenize(s)
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) <= 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func WordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b| over the two sets. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ContentJaccard compares the content-word sets of two texts.
func ContentJaccard(a, b string) float64 {
	return Jaccard(WordSet(ContentWords(a)), WordSet(ContentWords(b)))
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}

// NormalizeQuery trims s, collapses inner whitespace and lowercases it.
func NormalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
