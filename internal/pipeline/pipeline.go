package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/cache"
	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

const (
	ReasonLowConfidence = "low_confidence"
	ReasonLatencyBudget = "latency_budget"
	ReasonCancelled     = "cancelled"
)

type Classifier interface {
	Classify(ctx context.Context, query string, qctx domain.QueryContext) domain.Classification
}

type Uplifter interface {
	Uplift(ctx context.Context, query string, cls domain.Classification) domain.UpliftedPrompt
}

type Expander interface {
	Expand(ctx context.Context, original, improved string, cls domain.Classification, max int) []string
}

type Config struct {
	ConfidenceThreshold float64
	MaxExpansions       int
	ExpansionEnabled    bool
	// ExpansionSkipHits skips expansion once the caller already has this
	// many hits for the conversation.
	ExpansionSkipHits int
	// LatencyBudget bounds pipeline time excluding oracle round trips.
	// Zero disables the check.
	LatencyBudget time.Duration
	CacheTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.75,
		MaxExpansions:       3,
		ExpansionEnabled:    true,
		ExpansionSkipHits:   3,
		LatencyBudget:       600 * time.Millisecond,
		CacheTTL:            time.Hour,
	}
}

// Pipeline turns a raw query into a ProcessedQuery: cache check, classify,
// uplift, confidence gate, expand, cache write.
type Pipeline struct {
	classifier Classifier
	uplifter   Uplifter
	expander   Expander
	cache      cache.Cache
	cfg        Config
	now        func() time.Time
}

// New wires the stages. cache and expander may be nil.
func New(cls Classifier, up Uplifter, exp Expander, c cache.Cache, cfg Config) *Pipeline {
	if cfg.MaxExpansions < 0 {
		cfg.MaxExpansions = 0
	}
	return &Pipeline{
		classifier: cls,
		uplifter:   up,
		expander:   exp,
		cache:      c,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CacheKey is "uplift:" + sha256(normalized query | user | conversation).
func CacheKey(query string, qctx domain.QueryContext) string {
	return "uplift:" + utils.HashParts(utils.NormalizeQuery(query), qctx.UserID, qctx.ConversationID)
}

// Process never fails. Every stage problem ends in a documented fallback.
func (p *Pipeline) Process(ctx context.Context, query string, qctx domain.QueryContext) domain.ProcessedQuery {
	ctx, clock := llm.WithClock(ctx)
	start := p.now()
	key := CacheKey(query, qctx)
	log := logger.GetLogger().With(zap.String("cache_key", key))

	if cached, ok := p.lookup(ctx, key); ok {
		cached.Metadata.QueryID = uuid.NewString()
		cached.Metadata.CacheHit = true
		if !p.shouldExpand(qctx) {
			cached.Expansions = []string{}
		}
		cached.Metadata.LatencyMS = p.now().Sub(start).Milliseconds()
		metrics.QueryTotal.WithLabelValues("cache_hit").Inc()
		return cached
	}

	overBudget := func() string {
		if ctx.Err() != nil {
			return ReasonCancelled
		}
		if p.cfg.LatencyBudget > 0 && p.now().Sub(start)-clock.Elapsed() > p.cfg.LatencyBudget {
			return ReasonLatencyBudget
		}
		return ""
	}

	stage := p.now()
	cls := p.classifier.Classify(ctx, query, qctx)
	metrics.StageDuration.WithLabelValues("classify").Observe(p.now().Sub(stage).Seconds())

	out := domain.ProcessedQuery{
		FinalQuery:     query,
		Expansions:     []string{},
		UsedOriginal:   true,
		Classification: cls,
		Metadata: domain.QueryMetadata{
			QueryID:       uuid.NewString(),
			OriginalQuery: query,
			TaskType:      cls.TaskType,
			Entities:      cls.Entities,
			Complexity:    cls.Complexity,
			OutputFormat:  cls.OutputFormat,
		},
	}

	if reason := overBudget(); reason != "" {
		return p.degrade(out, reason, start, log)
	}

	stage = p.now()
	prompt := p.uplifter.Uplift(ctx, query, cls)
	metrics.StageDuration.WithLabelValues("uplift").Observe(p.now().Sub(stage).Seconds())
	metrics.UpliftConfidence.Observe(prompt.Confidence)
	out.UpliftConfidence = prompt.Confidence

	if reason := overBudget(); reason != "" {
		return p.degrade(out, reason, start, log)
	}

	if prompt.Confidence < p.cfg.ConfidenceThreshold {
		metrics.FallbackTotal.WithLabelValues(ReasonLowConfidence).Inc()
		log.Debug("Uplift below confidence threshold",
			zap.Float64("confidence", prompt.Confidence),
			zap.Float64("threshold", p.cfg.ConfidenceThreshold),
		)
		out.Metadata.FallbackReason = ReasonLowConfidence
	} else {
		out.FinalQuery = prompt.Improved
		out.UsedOriginal = false

		if p.shouldExpand(qctx) {
			stage = p.now()
			out.Expansions = p.expander.Expand(ctx, query, prompt.Improved, cls, p.cfg.MaxExpansions)
			metrics.StageDuration.WithLabelValues("expand").Observe(p.now().Sub(stage).Seconds())
			if out.Expansions == nil {
				out.Expansions = []string{}
			}
		}
	}
	metrics.ExpansionsCount.Observe(float64(len(out.Expansions)))

	if ctx.Err() != nil {
		return p.degrade(out, ReasonCancelled, start, log)
	}

	out.Metadata.LatencyMS = p.now().Sub(start).Milliseconds()
	p.store(ctx, key, out)

	metrics.QueryTotal.WithLabelValues("processed").Inc()
	log.Info("Query processed",
		zap.String("query_id", out.Metadata.QueryID),
		zap.String("task_type", string(cls.TaskType)),
		zap.Bool("used_original", out.UsedOriginal),
		zap.Int("expansions", len(out.Expansions)),
		zap.Int("oracle_calls", clock.Calls()),
		zap.Int64("latency_ms", out.Metadata.LatencyMS),
	)
	return out
}

func (p *Pipeline) shouldExpand(qctx domain.QueryContext) bool {
	if p.expander == nil || !p.cfg.ExpansionEnabled || p.cfg.MaxExpansions == 0 {
		return false
	}
	return p.cfg.ExpansionSkipHits <= 0 || qctx.PreviousHits < p.cfg.ExpansionSkipHits
}

// degrade returns the original query with no expansions. Degraded results
// are never cached.
func (p *Pipeline) degrade(out domain.ProcessedQuery, reason string, start time.Time, log *zap.Logger) domain.ProcessedQuery {
	out.FinalQuery = out.Metadata.OriginalQuery
	out.Expansions = []string{}
	out.UsedOriginal = true
	out.Degraded = true
	out.Metadata.FallbackReason = reason
	out.Metadata.LatencyMS = p.now().Sub(start).Milliseconds()

	metrics.FallbackTotal.WithLabelValues(reason).Inc()
	metrics.QueryTotal.WithLabelValues("degraded").Inc()
	log.Warn("Pipeline degraded to original query",
		zap.String("query_id", out.Metadata.QueryID),
		zap.String("reason", reason),
	)
	return out
}

func (p *Pipeline) lookup(ctx context.Context, key string) (domain.ProcessedQuery, bool) {
	var out domain.ProcessedQuery
	if p.cache == nil {
		return out, false
	}

	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		logger.Warn("Cache read failed, treating as miss", zap.Error(err))
		return out, false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		logger.Warn("Cached entry unreadable, treating as miss", zap.Error(err))
		return domain.ProcessedQuery{}, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return out, true
}

func (p *Pipeline) store(ctx context.Context, key string, out domain.ProcessedQuery) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Error("Failed to encode processed query", zap.Error(err))
		return
	}
	if err := p.cache.Set(ctx, key, data, p.cfg.CacheTTL); err != nil {
		metrics.CacheRequests.WithLabelValues("write_error").Inc()
		logger.Warn("Cache write failed", zap.Error(err))
	}
}
