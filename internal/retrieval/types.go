package retrieval

import (
	"context"

	"github.com/querylift/backend/internal/domain"
)

// LexicalSearcher is the keyword index. Scores are non-negative and higher
// is better.
type LexicalSearcher interface {
	Search(ctx context.Context, tokens []string, topK int) ([]domain.LexicalResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticHit is a raw vector-index hit. Distance is 1 - cosine similarity.
type SemanticHit struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]SemanticHit, error)
}

// Reranker scores every text against query in one call. The result has one
// score per text, in input order.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}
