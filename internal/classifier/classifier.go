package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
)

const (
	ruleConfidence       = 0.85
	llmDefaultConfidence = 0.7
	fallbackConfidence   = 0.5
)

const classifySystemPrompt = `You classify search queries for a retrieval system. Reply with one JSON object and nothing else.`

const classifyPromptTemplate = `Classify the query below.

task_type must be one of: qa, summarize, compare, code.
output_format must be one of: markdown, json, table.
confidence is a number between 0 and 1.

Query: %s

JSON: {"task_type": "...", "output_format": "...", "confidence": 0.0}`

type Classifier struct {
	gen         llm.Generator
	llmFallback bool
	timeout     time.Duration
}

type Option func(*Classifier)

// WithLLMFallback toggles the oracle call for queries without strong signals.
func WithLLMFallback(enabled bool) Option {
	return func(c *Classifier) { c.llmFallback = enabled }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Classifier. gen may be nil, in which case ambiguous queries
// keep their rule-based result.
func New(gen llm.Generator, opts ...Option) *Classifier {
	c := &Classifier{
		gen:         gen,
		llmFallback: true,
		timeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never fails. Oracle problems degrade to the documented default.
func (c *Classifier) Classify(ctx context.Context, query string, qctx domain.QueryContext) domain.Classification {
	s := extractSignals(query)

	if len(s.tickers) == 0 && qctx.PriorQuery != "" && isFollowUp(query) {
		if inherited := extractSignals(qctx.PriorQuery).tickers; len(inherited) > 0 {
			logger.Debug("Follow-up query inherits tickers", zap.Strings("tickers", inherited))
			s.tickers = inherited
		}
	}

	result := domain.Classification{
		TaskType:        s.taskType,
		RequiredSources: s.sources(),
		Entities:        s.entities(),
		OutputFormat:    s.format,
		Complexity:      s.complexity,
		Confidence:      ruleConfidence,
		Method:          domain.MethodRules,
	}

	if s.strong() || !c.llmFallback || c.gen == nil {
		return result
	}

	return c.classifyWithLLM(ctx, query, result)
}

func (c *Classifier) classifyWithLLM(ctx context.Context, query string, rules domain.Classification) domain.Classification {
	fallback := rules
	fallback.TaskType = domain.TaskQA
	fallback.OutputFormat = domain.FormatMarkdown
	fallback.Confidence = fallbackConfidence
	fallback.Method = domain.MethodDefault

	start := time.Now()
	res, err := llm.GenerateJSON(ctx, c.gen, llm.Request{
		System:      classifySystemPrompt,
		Prompt:      fmt.Sprintf(classifyPromptTemplate, query),
		Temperature: 0.1,
		MaxTokens:   80,
		Timeout:     c.timeout,
	})
	metrics.StageDuration.WithLabelValues("classify_llm").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Classification oracle failed, using defaults", zap.Error(err))
		metrics.FallbackTotal.WithLabelValues(fallbackReason(err)).Inc()
		return fallback
	}

	task, ok := parseTaskType(res.Get("task_type").String())
	if !ok {
		logger.Debug("Classification response unusable", zap.String("raw", res.Raw))
		metrics.FallbackTotal.WithLabelValues("classify_parse").Inc()
		return fallback
	}

	out := rules
	out.TaskType = task
	out.Method = domain.MethodLLM
	out.Confidence = llmDefaultConfidence
	if f := domain.OutputFormat(strings.ToLower(strings.TrimSpace(res.Get("output_format").String()))); f.Valid() {
		out.OutputFormat = f
	}
	if conf := res.Get("confidence"); conf.Exists() {
		out.Confidence = clamp01(conf.Float())
	}
	out.Complexity = estimateComplexity(query, task)
	return out
}

func parseTaskType(raw string) (domain.TaskType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "qa", "q&a", "question", "question_answering":
		return domain.TaskQA, true
	case "summarize", "summarise", "summary":
		return domain.TaskSummarize, true
	case "compare", "comparison":
		return domain.TaskCompare, true
	case "code", "coding":
		return domain.TaskCode, true
	}
	return "", false
}

func fallbackReason(err error) string {
	if domain.IsKind(err, domain.ErrOracleTimeout) {
		return "classify_timeout"
	}
	return "classify_error"
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
