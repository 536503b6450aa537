package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/internal/retrieval"
	"github.com/querylift/backend/internal/storage/models"
	"github.com/querylift/backend/pkg/logger"
)

type Processor interface {
	Process(ctx context.Context, query string, qctx domain.QueryContext) domain.ProcessedQuery
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, params domain.RetrievalParams) []domain.Candidate
	RetrieveMulti(ctx context.Context, final string, expansions []string, params domain.RetrievalParams) []domain.Candidate
}

// HistoryStore persists processed queries. The sqlite client implements it.
type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
	StoreFeedback(ctx context.Context, feedback *models.Feedback) error
}

type Options struct {
	// ExpansionRetrieval searches every expansion alongside the final query.
	ExpansionRetrieval bool
	// DefaultProfile replaces the optimizer's choice when set.
	DefaultProfile domain.Profile
	HistoryTimeout time.Duration
}

type Engine struct {
	pipeline  Processor
	retriever Retriever
	history   HistoryStore
	opts      Options
}

// NewEngine wires the public surface. history may be nil.
func NewEngine(p Processor, r Retriever, history HistoryStore, opts Options) *Engine {
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = 2 * time.Second
	}
	return &Engine{pipeline: p, retriever: r, history: history, opts: opts}
}

type SearchResult struct {
	Processed  domain.ProcessedQuery  `json:"processed"`
	Params     domain.RetrievalParams `json:"params"`
	Candidates []domain.Candidate     `json:"candidates"`
	Context    []domain.Candidate     `json:"context"`
}

func (e *Engine) Process(ctx context.Context, query string, qctx domain.QueryContext) domain.ProcessedQuery {
	start := time.Now()
	out := e.pipeline.Process(ctx, query, qctx)
	metrics.QueryDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())

	e.record(ctx, qctx, out, nil, nil)
	return out
}

// Retrieve runs retrieval for query as given, without the uplift pipeline.
func (e *Engine) Retrieve(ctx context.Context, query string, params domain.RetrievalParams) []domain.Candidate {
	start := time.Now()
	out := e.retriever.Retrieve(ctx, query, params)
	metrics.QueryDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	return out
}

// Search processes query and retrieves with the profile picked from the raw
// query, unless profile names a canonical one.
func (e *Engine) Search(ctx context.Context, query string, qctx domain.QueryContext, profile domain.Profile) SearchResult {
	start := time.Now()
	processed := e.pipeline.Process(ctx, query, qctx)
	params := e.params(query, profile)
	metrics.ProfileSelected.WithLabelValues(string(params.Profile)).Inc()

	var expansions []string
	if e.opts.ExpansionRetrieval {
		expansions = processed.Expansions
	}
	candidates := e.retriever.RetrieveMulti(ctx, processed.FinalQuery, expansions, params)
	if candidates == nil {
		candidates = []domain.Candidate{}
	}

	top := candidates
	if params.TopK >= 0 && len(top) > params.TopK {
		top = top[:params.TopK]
	}
	metrics.QueryDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())

	e.record(ctx, qctx, processed, &params, candidates)

	logger.Info("Search complete",
		zap.String("query_id", processed.Metadata.QueryID),
		zap.String("profile", string(params.Profile)),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return SearchResult{
		Processed:  processed,
		Params:     params,
		Candidates: candidates,
		Context:    top,
	}
}

func (e *Engine) History(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if e.history == nil {
		return []models.QueryRecord{}, nil
	}
	return e.history.GetQueryHistory(ctx, userID, limit)
}

func (e *Engine) Feedback(ctx context.Context, queryID string, helpful bool, comment string) error {
	if e.history == nil {
		return nil
	}
	return e.history.StoreFeedback(ctx, &models.Feedback{
		QueryID:   queryID,
		Helpful:   helpful,
		Comment:   comment,
		CreatedAt: time.Now(),
	})
}

func (e *Engine) params(query string, profile domain.Profile) domain.RetrievalParams {
	if profile == "" {
		profile = e.opts.DefaultProfile
	}
	if p, ok := retrieval.Profile(profile); ok {
		return p
	}
	return retrieval.Optimize(query)
}

// record writes history on a context detached from the caller so a client
// disconnect does not lose the row.
func (e *Engine) record(ctx context.Context, qctx domain.QueryContext, out domain.ProcessedQuery, params *domain.RetrievalParams, candidates []domain.Candidate) {
	if e.history == nil {
		return
	}

	rec := &models.QueryRecord{
		ID:               out.Metadata.QueryID,
		UserID:           qctx.UserID,
		ConversationID:   qctx.ConversationID,
		QueryText:        out.Metadata.OriginalQuery,
		FinalQuery:       out.FinalQuery,
		Expansions:       out.Expansions,
		TaskType:         string(out.Classification.TaskType),
		Complexity:       string(out.Classification.Complexity),
		UpliftConfidence: out.UpliftConfidence,
		UsedOriginal:     out.UsedOriginal,
		Degraded:         out.Degraded,
		CacheHit:         out.Metadata.CacheHit,
		FallbackReason:   out.Metadata.FallbackReason,
		CandidateCount:   len(candidates),
		LatencyMS:        out.Metadata.LatencyMS,
		CreatedAt:        time.Now(),
	}
	if params != nil {
		rec.Profile = string(params.Profile)
	}

	sources := make([]models.QuerySource, len(candidates))
	for i, c := range candidates {
		sources[i] = models.QuerySource{
			Rank:          i,
			CandidateID:   c.ID,
			LexicalScore:  c.LexicalScore,
			SemanticScore: c.SemanticScore,
			RerankScore:   c.RerankScore,
		}
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.HistoryTimeout)
	defer cancel()
	if err := e.history.InsertQueryRecord(hctx, rec, sources); err != nil {
		metrics.BackendErrors.WithLabelValues("history").Inc()
		logger.Warn("Failed to record query history", zap.String("query_id", rec.ID), zap.Error(err))
	}
}
