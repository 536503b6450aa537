package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
)

type fakeLexical struct {
	mu      sync.Mutex
	results map[string][]domain.LexicalResult
	err     error
	seen    [][]string
	topKs   []int
}

func (f *fakeLexical) Search(_ context.Context, tokens []string, topK int) ([]domain.LexicalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, tokens)
	f.topKs = append(f.topKs, topK)
	if f.err != nil {
		return nil, f.err
	}
	key := ""
	if len(tokens) > 0 {
		key = tokens[0]
	}
	return f.results[key], nil
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

type fakeVector struct {
	hits  map[float32][]SemanticHit
	delay time.Duration
}

func (f fakeVector) Search(ctx context.Context, vector []float32, topK int) ([]SemanticHit, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hits[vector[0]], nil
}

func params() domain.RetrievalParams {
	p, _ := Profile(domain.ProfileSimple)
	return p
}

func TestRetrieveConvertsDistanceAndFiltersSimilarity(t *testing.T) {
	query := "bond ladders"
	lex := &fakeLexical{results: map[string][]domain.LexicalResult{
		"bond": {{ID: "a", Text: "alpha", Score: 5}},
	}}
	vec := fakeVector{hits: map[float32][]SemanticHit{
		float32(len(query)): {
			{ID: "a", Text: "alpha", Distance: 0.1},
			{ID: "b", Text: "beta", Distance: 0.3},
			{ID: "c", Text: "gamma", Distance: 0.75},
		},
	}}
	r := NewRetriever(lex, fakeEmbedder{}, vec, nil, Config{MinSimilarity: 0.3})

	got := r.Retrieve(context.Background(), query, params())

	require.Equal(t, []string{"a", "b"}, ids(got))
	assert.InDelta(t, 0.9, *got[0].SemanticScore, 1e-9)
	assert.Equal(t, 5.0, *got[0].LexicalScore)
	assert.InDelta(t, 0.7, *got[1].SemanticScore, 1e-9)
	assert.Equal(t, []string{"bond", "ladders"}, lex.seen[0])
	assert.Equal(t, 10, lex.topKs[0])
}

func TestRetrieveSurvivesBackendFailures(t *testing.T) {
	lex := &fakeLexical{err: errors.New("index offline")}
	vec := fakeVector{hits: map[float32][]SemanticHit{4: {{ID: "v", Text: "vec", Distance: 0.2}}}}

	got := NewRetriever(lex, fakeEmbedder{}, vec, nil, Config{}).Retrieve(context.Background(), "bond", params())
	assert.Equal(t, []string{"v"}, ids(got))

	got = NewRetriever(nil, fakeEmbedder{err: errors.New("no embeddings")}, vec, nil, Config{}).Retrieve(context.Background(), "bond", params())
	assert.Empty(t, got)
}

func TestRetrieveAppliesSearchTimeout(t *testing.T) {
	lex := &fakeLexical{results: map[string][]domain.LexicalResult{"bond": {{ID: "a", Text: "alpha", Score: 1}}}}
	vec := fakeVector{delay: time.Second}

	start := time.Now()
	got := NewRetriever(lex, fakeEmbedder{}, vec, nil, Config{SearchTimeout: 20 * time.Millisecond}).
		Retrieve(context.Background(), "bond", params())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestRetrieveMultiUnionsExpansions(t *testing.T) {
	lex := &fakeLexical{results: map[string][]domain.LexicalResult{
		"bond":     {{ID: "a", Text: "alpha", Score: 2}},
		"fixed":    {{ID: "a", Text: "alpha", Score: 4}, {ID: "b", Text: "beta", Score: 1}},
		"treasury": {{ID: "c", Text: "gamma", Score: 3}},
	}}
	reranker, calls := scoresByText(map[string]float64{"alpha": 0.1, "beta": 0.5, "gamma": 0.9})
	r := NewRetriever(lex, nil, nil, reranker, Config{})

	got := r.RetrieveMulti(context.Background(), "bond ladders", []string{"fixed income ladders", "treasury ladders"}, params())

	assert.Equal(t, []string{"c", "b", "a"}, ids(got))
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 4.0, *got[2].LexicalScore)
	assert.Len(t, lex.seen, 3)
}

func TestQueryTokens(t *testing.T) {
	assert.Equal(t, []string{"aapl", "s", "rsi", "go"}, QueryTokens("What is AAPL's RSI in Go?"))
}
