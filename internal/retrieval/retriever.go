package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

type Config struct {
	MinSimilarity      float64
	SearchTimeout      time.Duration
	DemoteDuplicates   bool
	DuplicateThreshold float64
}

// Retriever runs lexical and semantic search concurrently and fuses the
// results. Either backend may be nil.
type Retriever struct {
	lexical  LexicalSearcher
	embedder Embedder
	vector   VectorSearcher
	fuser    *Fuser
	cfg      Config
}

func NewRetriever(lexical LexicalSearcher, embedder Embedder, vector VectorSearcher, reranker Reranker, cfg Config) *Retriever {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	return &Retriever{
		lexical:  lexical,
		embedder: embedder,
		vector:   vector,
		fuser:    NewFuser(reranker),
		cfg:      cfg,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, params domain.RetrievalParams) []domain.Candidate {
	return r.RetrieveMulti(ctx, query, nil, params)
}

// RetrieveMulti searches the final query and every expansion on both
// backends at once, unions the result lists in query order and fuses them
// against the final query.
func (r *Retriever) RetrieveMulti(ctx context.Context, final string, expansions []string, params domain.RetrievalParams) []domain.Candidate {
	queries := append([]string{final}, expansions...)
	lexical := make([][]domain.LexicalResult, len(queries))
	semantic := make([][]domain.SemanticResult, len(queries))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		if r.lexical != nil {
			g.Go(func() error {
				lexical[i] = r.searchLexical(gctx, q, params.BM25TopK)
				return nil
			})
		}
		if r.embedder != nil && r.vector != nil {
			g.Go(func() error {
				semantic[i] = r.searchSemantic(gctx, q, params.EmbeddingTopK)
				return nil
			})
		}
	}
	_ = g.Wait()
	metrics.StageDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())

	var allLexical []domain.LexicalResult
	var allSemantic []domain.SemanticResult
	for i := range queries {
		allLexical = append(allLexical, lexical[i]...)
		allSemantic = append(allSemantic, semantic[i]...)
	}
	metrics.RetrievalResults.WithLabelValues("lexical").Observe(float64(len(allLexical)))
	metrics.RetrievalResults.WithLabelValues("semantic").Observe(float64(len(allSemantic)))

	start = time.Now()
	fused := r.fuser.Fuse(ctx, final, allLexical, allSemantic, FuseOptions{
		RerankTopK:         params.RerankTopK,
		DemoteDuplicates:   r.cfg.DemoteDuplicates,
		DuplicateThreshold: r.cfg.DuplicateThreshold,
	})
	metrics.StageDuration.WithLabelValues("fuse").Observe(time.Since(start).Seconds())

	logger.Debug("Retrieval complete",
		zap.String("profile", string(params.Profile)),
		zap.Int("queries", len(queries)),
		zap.Int("lexical", len(allLexical)),
		zap.Int("semantic", len(allSemantic)),
		zap.Int("fused", len(fused)),
	)
	return fused
}

func (r *Retriever) searchLexical(ctx context.Context, query string, topK int) []domain.LexicalResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	results, err := r.lexical.Search(ctx, QueryTokens(query), topK)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("lexical").Inc()
		logger.Warn("Lexical search failed", zap.Error(err))
		return nil
	}
	return results
}

func (r *Retriever) searchSemantic(ctx context.Context, query string, topK int) []domain.SemanticResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("embedding").Inc()
		logger.Warn("Query embedding failed", zap.Error(err))
		return nil
	}

	hits, err := r.vector.Search(ctx, vector, topK)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("vector").Inc()
		logger.Warn("Vector search failed", zap.Error(err))
		return nil
	}

	out := make([]domain.SemanticResult, 0, len(hits))
	for _, h := range hits {
		similarity := 1 - h.Distance
		if similarity < r.cfg.MinSimilarity {
			continue
		}
		out = append(out, domain.SemanticResult{
			ID:         h.ID,
			Text:       h.Text,
			Metadata:   h.Metadata,
			Similarity: similarity,
		})
	}
	return out
}

// QueryTokens lowercases and splits query for the keyword index, dropping
// stop words.
func QueryTokens(query string) []string {
	tokens := utils.Tokenize(query)
	out := tokens[:0]
	for _, tok := range tokens {
		if !utils.IsStopWord(tok) {
			out = append(out, tok)
		}
	}
	return out
}
