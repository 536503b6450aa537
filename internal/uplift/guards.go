package uplift

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querylift/backend/internal/classifier"
	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/utils"
)

const (
	maxGrowth    = 3
	minRetention = 0.3
)

// structuralNumbers may appear in a rewrite without being in the query.
var structuralNumbers = map[string]bool{
	"1": true, "2": true, "3": true, "4": true, "5": true,
	"10": true, "20": true, "30": true, "100": true, "200": true,
	"2024": true, "2025": true,
}

var (
	numberPattern    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	uppercasePattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
)

// Validate checks a model rewrite against the word-count bounds and the
// content-word retention floor.
func Validate(original, improved string) error {
	ow, iw := utils.WordCount(original), utils.WordCount(improved)
	if iw < ow {
		return fmt.Errorf("%w: improved has %d words, original %d", domain.ErrValidationRejected, iw, ow)
	}
	if iw > maxGrowth*ow {
		return fmt.Errorf("%w: improved has %d words, limit %d", domain.ErrValidationRejected, iw, maxGrowth*ow)
	}

	var content []string
	for _, tok := range utils.Tokenize(original) {
		if len([]rune(tok)) > 3 {
			content = append(content, tok)
		}
	}
	if len(content) == 0 {
		return nil
	}
	improvedSet := utils.WordSet(utils.Tokenize(improved))
	kept := 0
	for _, tok := range content {
		if _, ok := improvedSet[tok]; ok {
			kept++
		}
	}
	if ratio := float64(kept) / float64(len(content)); ratio < minRetention {
		return fmt.Errorf("%w: only %.0f%% of content words retained", domain.ErrValidationRejected, ratio*100)
	}
	return nil
}

// DetectFactInjection returns the numeric and capitalised tokens that
// improved introduces over original, in order of appearance.
func DetectFactInjection(original, improved string) []string {
	origNumbers := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(original, -1) {
		origNumbers[n] = true
	}
	origWords := make(map[string]bool)
	for _, tok := range utils.Tokenize(original) {
		origWords[strings.ToUpper(tok)] = true
	}

	var injected []string
	seen := make(map[string]bool)
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			injected = append(injected, tok)
		}
	}

	for _, n := range numberPattern.FindAllString(improved, -1) {
		if !origNumbers[n] && !structuralNumbers[n] {
			add(n)
		}
	}
	for _, tok := range uppercasePattern.FindAllString(improved, -1) {
		if tok == "I" || tok == "A" || origWords[tok] || classifier.IsIndicatorAbbreviation(tok) {
			continue
		}
		add(tok)
	}
	return injected
}
