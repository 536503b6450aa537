package rerank

import (
	"context"
	"strings"

	"github.com/querylift/backend/pkg/utils"
)

// Weights blends the signals of LexicalScorer. It is a value type: callers
// that want different weights for one request pass their own copy to
// ScoreWith instead of changing the scorer.
type Weights struct {
	Overlap  float64
	Phrase   float64
	Coverage float64
}

func DefaultWeights() Weights {
	return Weights{Overlap: 0.6, Phrase: 0.25, Coverage: 0.15}
}

// LexicalScorer is an offline stand-in for a cross-encoder. It scores each
// text by query-token overlap, exact phrase presence and how much of the text
// the query covers.
type LexicalScorer struct {
	weights Weights
}

func NewLexicalScorer(w Weights) *LexicalScorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &LexicalScorer{weights: w}
}

func (s *LexicalScorer) Weights() Weights {
	return s.weights
}

func (s *LexicalScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return s.ScoreWith(ctx, s.weights, query, texts)
}

// ScoreWith scores with w for this call only.
func (s *LexicalScorer) ScoreWith(ctx context.Context, w Weights, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := utils.WordSet(utils.ContentWords(query))
	phrase := strings.ToLower(strings.Join(strings.Fields(query), " "))

	scores := make([]float64, len(texts))
	for i, text := range texts {
		textTokens := utils.WordSet(utils.ContentWords(text))
		scores[i] = w.Overlap*overlap(queryTokens, textTokens) +
			w.Phrase*phraseHit(phrase, text) +
			w.Coverage*coverage(queryTokens, textTokens)
	}
	return scores, nil
}

func overlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for tok := range query {
		if _, ok := text[tok]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func phraseHit(phrase, text string) float64 {
	if phrase == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(strings.Join(strings.Fields(text), " ")), phrase) {
		return 1
	}
	return 0
}

func coverage(query, text map[string]struct{}) float64 {
	if len(text) == 0 {
		return 0
	}
	matches := 0
	for tok := range text {
		if _, ok := query[tok]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(text))
}
