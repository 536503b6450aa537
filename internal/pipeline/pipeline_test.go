package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/cache"
	"github.com/querylift/backend/internal/classifier"
	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/expansion"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/uplift"
)

// script answers each stage by the system prompt's opening words.
type script struct {
	mu       sync.Mutex
	classify string
	rewrite  string
	expand   []string
	delay    time.Duration
	calls    map[string]int
}

func (s *script) Generate(ctx context.Context, req llm.Request) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}

	switch {
	case strings.HasPrefix(req.System, "You classify"):
		s.calls["classify"]++
		return s.classify, nil
	case strings.HasPrefix(req.System, "You rewrite"):
		s.calls["uplift"]++
		return s.rewrite, nil
	default:
		n := s.calls["expand"]
		s.calls["expand"]++
		if n < len(s.expand) {
			return s.expand[n], nil
		}
		return "", errors.New("no more expansions")
	}
}

func (s *script) count(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func tradingScript() *script {
	return &script{
		classify: `Sure. {"task_type": "qa", "output_format": "markdown", "confidence": 0.85}`,
		rewrite:  "Improved query: Specific trading strategies, cite sources, markdown",
		expand: []string{
			"approaches for trading in volatile markets",
			"underlying mechanism behind momentum profits",
			"Momentum and mean reversion are common approaches. Each relies on historical price behaviour.",
		},
	}
}

func newPipeline(gen llm.Generator, c cache.Cache, cfg Config) *Pipeline {
	timed := llm.Timed(gen)
	return New(
		classifier.New(timed),
		uplift.New(timed),
		expansion.New(timed),
		c,
		cfg,
	)
}

func TestProcessAcceptsConfidentUplift(t *testing.T) {
	gen := tradingScript()
	p := newPipeline(gen, cache.NewMemory(16, time.Minute), DefaultConfig())

	out := p.Process(context.Background(), "trading strategies", domain.QueryContext{UserID: "u1"})

	assert.Equal(t, domain.TaskQA, out.Classification.TaskType)
	assert.Equal(t, 0.85, out.Classification.Confidence)
	assert.False(t, out.UsedOriginal)
	assert.Equal(t, "Specific trading strategies, cite sources, markdown", out.FinalQuery)
	assert.GreaterOrEqual(t, out.UpliftConfidence, 0.75)
	assert.Len(t, out.Expansions, 3)
	assert.False(t, out.Degraded)
	assert.False(t, out.Metadata.CacheHit)
	assert.NotEmpty(t, out.Metadata.QueryID)
	assert.Equal(t, "trading strategies", out.Metadata.OriginalQuery)
}

func TestProcessLowConfidenceUsesOriginal(t *testing.T) {
	gen := &script{
		classify: `{"task_type": "qa", "confidence": 0.9}`,
		rewrite:  "bond ladder strategies explained",
		expand:   []string{"should never be requested"},
	}
	p := newPipeline(gen, nil, DefaultConfig())

	out := p.Process(context.Background(), "bond ladder strategies", domain.QueryContext{})

	assert.True(t, out.UsedOriginal)
	assert.Equal(t, "bond ladder strategies", out.FinalQuery)
	assert.Equal(t, []string{}, out.Expansions)
	assert.Less(t, out.UpliftConfidence, 0.75)
	assert.Equal(t, ReasonLowConfidence, out.Metadata.FallbackReason)
	assert.Zero(t, gen.count("expand"))
}

func TestProcessFallbackMonotonicity(t *testing.T) {
	queries := []string{"RSI for AAPL", "summarize my uploaded report", "compare bonds vs stocks", "trading strategies"}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			gen := tradingScript()
			cfg := DefaultConfig()
			cfg.ConfidenceThreshold = 1.01
			out := newPipeline(gen, nil, cfg).Process(context.Background(), q, domain.QueryContext{})

			assert.True(t, out.UsedOriginal)
			assert.Equal(t, q, out.FinalQuery)
			assert.Empty(t, out.Expansions)
			assert.Zero(t, gen.count("expand"))
		})
	}
}

func TestProcessSkipsExpansionWithPreviousHits(t *testing.T) {
	gen := tradingScript()
	p := newPipeline(gen, nil, DefaultConfig())

	out := p.Process(context.Background(), "trading strategies", domain.QueryContext{PreviousHits: 5})

	assert.False(t, out.UsedOriginal)
	assert.Equal(t, []string{}, out.Expansions)
	assert.Zero(t, gen.count("expand"))
}

func TestProcessCacheHitHonoursPreviousHits(t *testing.T) {
	gen := tradingScript()
	p := newPipeline(gen, cache.NewMemory(16, time.Minute), DefaultConfig())
	qctx := domain.QueryContext{UserID: "u1", ConversationID: "c1"}

	first := p.Process(context.Background(), "trading strategies", qctx)
	require.Len(t, first.Expansions, 3)

	qctx.PreviousHits = 5
	second := p.Process(context.Background(), "trading strategies", qctx)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.FinalQuery, second.FinalQuery)
	assert.Equal(t, []string{}, second.Expansions)

	qctx.PreviousHits = 0
	third := p.Process(context.Background(), "trading strategies", qctx)
	assert.True(t, third.Metadata.CacheHit)
	assert.Len(t, third.Expansions, 3)
}

func TestProcessTemplateFallbackOnFactInjection(t *testing.T) {
	gen := tradingScript()
	gen.rewrite = "Explain RSI using a 14-period lookback, 70/30 bands"
	p := newPipeline(gen, nil, DefaultConfig())

	out := p.Process(context.Background(), "RSI", domain.QueryContext{})

	assert.Zero(t, gen.count("classify"), "indicator is a strong signal")
	assert.Equal(t, "Provide a detailed answer to: RSI. Include specific examples, cite sources, and format as markdown.", out.FinalQuery)
	assert.False(t, out.UsedOriginal)
}

func TestProcessServesCacheHits(t *testing.T) {
	gen := tradingScript()
	mem := cache.NewMemory(16, time.Minute)
	p := newPipeline(gen, mem, DefaultConfig())
	qctx := domain.QueryContext{UserID: "u1", ConversationID: "c1"}

	first := p.Process(context.Background(), "trading strategies", qctx)
	calls := gen.count("uplift")

	second := p.Process(context.Background(), "  Trading   STRATEGIES ", qctx)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.FinalQuery, second.FinalQuery)
	assert.Equal(t, first.Expansions, second.Expansions)
	assert.NotEqual(t, first.Metadata.QueryID, second.Metadata.QueryID)
	assert.Equal(t, calls, gen.count("uplift"))

	other := p.Process(context.Background(), "trading strategies", domain.QueryContext{UserID: "u2"})
	assert.False(t, other.Metadata.CacheHit)
}

type failingCache struct{ writes int }

func (f *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, domain.ErrCacheUnavailable
}

func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	f.writes++
	return domain.ErrCacheUnavailable
}

func TestProcessTreatsCacheErrorsAsMiss(t *testing.T) {
	fc := &failingCache{}
	p := newPipeline(tradingScript(), fc, DefaultConfig())

	out := p.Process(context.Background(), "trading strategies", domain.QueryContext{})
	assert.False(t, out.UsedOriginal)
	assert.False(t, out.Metadata.CacheHit)
	assert.Equal(t, 1, fc.writes)
}

func TestProcessedQueryRoundTripIsExact(t *testing.T) {
	mem := cache.NewMemory(16, time.Minute)
	p := newPipeline(tradingScript(), mem, DefaultConfig())
	qctx := domain.QueryContext{UserID: "u1"}

	out := p.Process(context.Background(), "trading strategies", qctx)

	data, ok, err := mem.Get(context.Background(), CacheKey("trading strategies", qctx))
	require.NoError(t, err)
	require.True(t, ok)

	var decoded domain.ProcessedQuery
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, out, decoded)
}

func TestProcessDegradesWhenBudgetExceeded(t *testing.T) {
	mem := cache.NewMemory(16, time.Minute)
	gen := tradingScript()
	p := newPipeline(gen, mem, DefaultConfig())

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	out := p.Process(context.Background(), "trading strategies", domain.QueryContext{})

	assert.True(t, out.Degraded)
	assert.True(t, out.UsedOriginal)
	assert.Equal(t, "trading strategies", out.FinalQuery)
	assert.Empty(t, out.Expansions)
	assert.Equal(t, ReasonLatencyBudget, out.Metadata.FallbackReason)
	assert.Zero(t, gen.count("uplift"))
	assert.Zero(t, mem.Len(), "degraded results are not cached")
}

func TestProcessBudgetExcludesOracleTime(t *testing.T) {
	gen := tradingScript()
	gen.delay = 30 * time.Millisecond
	cfg := DefaultConfig()
	cfg.LatencyBudget = 20 * time.Millisecond

	out := newPipeline(gen, nil, cfg).Process(context.Background(), "trading strategies", domain.QueryContext{})

	assert.False(t, out.Degraded)
	assert.False(t, out.UsedOriginal)
	assert.GreaterOrEqual(t, out.Metadata.LatencyMS, int64(100))
}

func TestProcessCancelledContextDegrades(t *testing.T) {
	mem := cache.NewMemory(16, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newPipeline(tradingScript(), mem, DefaultConfig()).Process(ctx, "trading strategies", domain.QueryContext{})

	assert.True(t, out.Degraded)
	assert.Equal(t, ReasonCancelled, out.Metadata.FallbackReason)
	assert.Equal(t, "trading strategies", out.FinalQuery)
	assert.NotEmpty(t, out.Classification.RequiredSources)
	assert.Zero(t, mem.Len())
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("Trading  strategies?", domain.QueryContext{UserID: "u", ConversationID: "c"})
	b := CacheKey("trading strategies?", domain.QueryContext{UserID: "u", ConversationID: "c"})
	c := CacheKey("trading strategies?", domain.QueryContext{UserID: "u", ConversationID: "d"})

	assert.True(t, strings.HasPrefix(a, "uplift:"))
	assert.Len(t, a, len("uplift:")+64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
