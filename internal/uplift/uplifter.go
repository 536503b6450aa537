package uplift

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
)

const (
	ViolationOracle     = "oracle_error"
	ViolationEmpty      = "empty_response"
	ViolationValidation = "validation"
	ViolationFacts      = "fact_injection"
)

type Uplifter struct {
	gen     llm.Generator
	timeout time.Duration
}

type Option func(*Uplifter)

func WithTimeout(d time.Duration) Option {
	return func(u *Uplifter) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// New builds an Uplifter. With a nil generator every query gets its
// template rewrite.
func New(gen llm.Generator, opts ...Option) *Uplifter {
	u := &Uplifter{gen: gen, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Uplift rewrites query for retrieval. It never fails: oracle errors and
// guard violations fall back to the task template.
func (u *Uplifter) Uplift(ctx context.Context, query string, cls domain.Classification) domain.UpliftedPrompt {
	if u.gen == nil {
		return u.fallback(query, cls, nil)
	}

	start := time.Now()
	raw, err := u.gen.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(query, cls),
		Temperature: 0.3,
		MaxTokens:   200,
		Timeout:     u.timeout,
	})
	metrics.StageDuration.WithLabelValues("uplift_llm").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Uplift oracle failed, using template", zap.Error(err))
		return u.fallback(query, cls, []string{ViolationOracle})
	}

	improved := llm.CleanResponse(raw)
	if improved == "" {
		return u.fallback(query, cls, []string{ViolationEmpty})
	}

	var violations []string
	if err := Validate(query, improved); err != nil {
		logger.Debug("Uplift rejected by validation", zap.Error(err))
		violations = append(violations, ViolationValidation)
	}
	if injected := DetectFactInjection(query, improved); len(injected) > 0 {
		metrics.FactInjectionTotal.Inc()
		logger.Warn("Uplift introduced new facts",
			zap.String("query", query),
			zap.Strings("tokens", injected),
		)
		violations = append(violations, ViolationFacts+": "+strings.Join(injected, ","))
	}
	if len(violations) > 0 {
		return u.fallback(query, cls, violations)
	}

	return domain.UpliftedPrompt{
		Original:       query,
		Improved:       improved,
		Classification: cls,
		Confidence:     ScoreConfidence(query, improved),
	}
}

func (u *Uplifter) fallback(query string, cls domain.Classification, violations []string) domain.UpliftedPrompt {
	for _, v := range violations {
		reason := v
		if i := strings.IndexByte(v, ':'); i > 0 {
			reason = v[:i]
		}
		metrics.FallbackTotal.WithLabelValues("uplift_" + reason).Inc()
	}

	improved := Template(cls.TaskType, query, cls.OutputFormat)
	return domain.UpliftedPrompt{
		Original:       query,
		Improved:       improved,
		Classification: cls,
		Confidence:     ScoreConfidence(query, improved),
		UsedTemplate:   true,
		Violations:     violations,
	}
}
