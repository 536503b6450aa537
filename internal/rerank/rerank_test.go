package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
)

func TestHTTPScorer(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(scoreResponse{Scores: []float64{0.2, 0.8}})
	}))
	defer srv.Close()

	scores, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), "bond ladders", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, scores)
	assert.Equal(t, "bond ladders", got.Query)
	assert.Equal(t, []string{"a", "b"}, got.Texts)
}

func TestHTTPScorerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}},
		{"count mismatch", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"scores":[0.1]}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`scores: none`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), "q", []string{"a", "b"})
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.ErrOracleFailure))
		})
	}
}

func TestHTTPScorerSkipsEmptyBatch(t *testing.T) {
	scores, err := NewHTTPScorer("http://127.0.0.1:1", time.Second).Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestLexicalScorerRanksRelevantTextHigher(t *testing.T) {
	s := NewLexicalScorer(Weights{})
	assert.Equal(t, DefaultWeights(), s.Weights())

	scores, err := s.Score(context.Background(), "bond ladder strategies", []string{
		"cooking pasta at home",
		"a bond ladder spreads maturities",
		"bond ladder strategies for retirees",
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Zero(t, scores[0])
	assert.Greater(t, scores[1], scores[0])
	assert.Greater(t, scores[2], scores[1])
}

func TestLexicalScorerOverridesDoNotLeak(t *testing.T) {
	s := NewLexicalScorer(DefaultWeights())
	texts := []string{"bond ladder strategies for retirees"}

	base, err := s.Score(context.Background(), "bond ladder strategies", texts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			phraseOnly, err := s.ScoreWith(context.Background(), Weights{Phrase: 1}, "bond ladder strategies", texts)
			assert.NoError(t, err)
			assert.Equal(t, []float64{1}, phraseOnly)
		}()
	}
	wg.Wait()

	after, err := s.Score(context.Background(), "bond ladder strategies", texts)
	require.NoError(t, err)
	assert.Equal(t, base, after)
	assert.Equal(t, DefaultWeights(), s.Weights())
}
