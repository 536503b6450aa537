package expansion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

const (
	DefaultMaxExpansions = 3
	// SimilarityLimit is the content-word Jaccard at which a candidate counts
	// as a near duplicate.
	SimilarityLimit = 0.8
)

const systemPrompt = `You help a search engine by writing alternative search queries. Never add facts, numbers or names the user did not mention. Reply with the requested text only.`

var aspectFocus = map[domain.TaskType]string{
	domain.TaskQA:        "the underlying mechanism or cause behind the question",
	domain.TaskSummarize: "the key themes a summary must cover",
	domain.TaskCompare:   "the risk criteria used to compare the items",
	domain.TaskCode:      "the implementation details needed to write the code",
}

type strategy struct {
	name   string
	prompt func(original, improved string, cls domain.Classification) string
	tokens int
}

var strategies = []strategy{
	{
		name: "paraphrase",
		prompt: func(original, improved string, _ domain.Classification) string {
			return fmt.Sprintf("Rewrite this search query with the same meaning but different words.\n\nQuery: %s\n\nParaphrase:", original)
		},
		tokens: 80,
	},
	{
		name: "aspect",
		prompt: func(original, improved string, cls domain.Classification) string {
			focus, ok := aspectFocus[cls.TaskType]
			if !ok {
				focus = aspectFocus[domain.TaskQA]
			}
			return fmt.Sprintf("Write one focused sub-query about %s.\n\nQuestion: %s\nSearch request: %s\n\nSub-query:", focus, original, improved)
		},
		tokens: 80,
	},
	{
		name: "hyde",
		prompt: func(original, improved string, _ domain.Classification) string {
			return fmt.Sprintf("Write a plausible 2-3 sentence passage that would answer the question below, in the style of a reference document. It is only used to find similar documents.\n\nQuestion: %s\n\nPassage:", original)
		},
		tokens: 160,
	},
}

type Expander struct {
	gen     llm.Generator
	timeout time.Duration
}

type Option func(*Expander)

func WithTimeout(d time.Duration) Option {
	return func(e *Expander) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(gen llm.Generator, opts ...Option) *Expander {
	e := &Expander{gen: gen, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns up to max alternate formulations, in strategy order
// (paraphrase, aspect, hyde). Generation failures only shorten the list.
func (e *Expander) Expand(ctx context.Context, original, improved string, cls domain.Classification, max int) []string {
	if max <= 0 || e.gen == nil {
		return []string{}
	}

	accepted := make([]string, 0, max)
	for _, s := range strategies {
		if len(accepted) >= max {
			break
		}
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		raw, err := e.gen.Generate(ctx, llm.Request{
			System:      systemPrompt,
			Prompt:      s.prompt(original, improved, cls),
			Temperature: 0.7,
			MaxTokens:   s.tokens,
			Timeout:     e.timeout,
		})
		metrics.StageDuration.WithLabelValues("expand_" + s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Warn("Expansion strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err),
			)
			metrics.FallbackTotal.WithLabelValues("expand_" + s.name).Inc()
			continue
		}

		candidate := llm.CleanResponse(raw)
		if candidate == "" {
			continue
		}
		if !isDiverse(candidate, original, improved, accepted) {
			logger.Debug("Expansion rejected as near duplicate",
				zap.String("strategy", s.name),
				zap.String("candidate", candidate),
			)
			continue
		}
		accepted = append(accepted, candidate)
	}

	return accepted
}

// FilterDiverse keeps, in order, the candidates whose content-word
// similarity to the original query, the final query and every previously
// kept candidate stays below SimilarityLimit. At most max are kept.
func FilterDiverse(original, final string, candidates []string, max int) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if max >= 0 && len(out) >= max {
			break
		}
		if isDiverse(c, original, final, out) {
			out = append(out, c)
		}
	}
	return out
}

func isDiverse(candidate, original, final string, accepted []string) bool {
	set := utils.WordSet(utils.ContentWords(candidate))
	if len(set) == 0 {
		return false
	}
	refs := append([]string{original, final}, accepted...)
	for _, ref := range refs {
		if utils.Jaccard(set, utils.WordSet(utils.ContentWords(ref))) >= SimilarityLimit {
			return false
		}
	}
	return true
}
