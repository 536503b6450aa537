package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

const duplicatePenalty = 0.8

type FuseOptions struct {
	RerankTopK int
	// DemoteDuplicates multiplies the rerank score of a candidate by 0.8 when
	// its content words overlap a higher-ranked candidate by at least
	// DuplicateThreshold. Demoted candidates stay in the list.
	DemoteDuplicates   bool
	DuplicateThreshold float64
}

type Fuser struct {
	reranker Reranker
}

// NewFuser builds a Fuser. A nil reranker leaves candidates unscored in
// union order.
func NewFuser(reranker Reranker) *Fuser {
	return &Fuser{reranker: reranker}
}

// Fuse unions both lists by id (lexical first), scores every candidate in
// one rerank call, sorts stably by rerank score and truncates to
// opts.RerankTopK.
func (f *Fuser) Fuse(ctx context.Context, query string, lexical []domain.LexicalResult, semantic []domain.SemanticResult, opts FuseOptions) []domain.Candidate {
	candidates := union(lexical, semantic)
	if len(candidates) == 0 {
		return []domain.Candidate{}
	}

	if f.rerank(ctx, query, candidates) {
		sortByRerank(candidates)
		if opts.DemoteDuplicates {
			demoteDuplicates(candidates, opts.DuplicateThreshold)
		}
	}

	if opts.RerankTopK > 0 && len(candidates) > opts.RerankTopK {
		candidates = candidates[:opts.RerankTopK]
	}
	return candidates
}

func union(lexical []domain.LexicalResult, semantic []domain.SemanticResult) []domain.Candidate {
	index := make(map[string]int, len(lexical)+len(semantic))
	out := make([]domain.Candidate, 0, len(lexical)+len(semantic))

	for _, r := range lexical {
		if i, ok := index[r.ID]; ok {
			out[i].LexicalScore = maxScore(out[i].LexicalScore, r.Score)
			continue
		}
		index[r.ID] = len(out)
		out = append(out, domain.Candidate{
			ID:           r.ID,
			Text:         r.Text,
			Metadata:     r.Metadata,
			LexicalScore: domain.Float(r.Score),
		})
	}

	for _, r := range semantic {
		if i, ok := index[r.ID]; ok {
			out[i].SemanticScore = maxScore(out[i].SemanticScore, r.Similarity)
			if out[i].Text == "" {
				out[i].Text = r.Text
			}
			if out[i].Metadata == nil {
				out[i].Metadata = r.Metadata
			}
			continue
		}
		index[r.ID] = len(out)
		out = append(out, domain.Candidate{
			ID:            r.ID,
			Text:          r.Text,
			Metadata:      r.Metadata,
			SemanticScore: domain.Float(r.Similarity),
		})
	}

	return out
}

func maxScore(current *float64, v float64) *float64 {
	if current == nil || v > *current {
		return domain.Float(v)
	}
	return current
}

// rerank assigns RerankScore in place and reports whether it did.
func (f *Fuser) rerank(ctx context.Context, query string, candidates []domain.Candidate) bool {
	if f.reranker == nil {
		return false
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	scores, err := f.reranker.Score(ctx, query, texts)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("rerank").Inc()
		logger.Warn("Rerank failed, keeping union order", zap.Error(err))
		return false
	}
	if len(scores) != len(candidates) {
		metrics.BackendErrors.WithLabelValues("rerank").Inc()
		logger.Warn("Rerank returned wrong number of scores, keeping union order",
			zap.Int("expected", len(candidates)),
			zap.Int("got", len(scores)),
		)
		return false
	}

	for i := range candidates {
		candidates[i].RerankScore = domain.Float(scores[i])
	}
	return true
}

func sortByRerank(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})
}

func demoteDuplicates(candidates []domain.Candidate, threshold float64) {
	if threshold <= 0 {
		threshold = 0.9
	}
	sets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		sets[i] = utils.WordSet(utils.ContentWords(c.Text))
	}

	demoted := false
	for i := 1; i < len(candidates); i++ {
		if len(sets[i]) == 0 {
			continue
		}
		for j := 0; j < i; j++ {
			if utils.Jaccard(sets[i], sets[j]) >= threshold {
				candidates[i].RerankScore = domain.Float(*candidates[i].RerankScore * duplicatePenalty)
				demoted = true
				break
			}
		}
	}
	if demoted {
		sortByRerank(candidates)
	}
}
