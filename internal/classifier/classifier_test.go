package classifier

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/llm"
)

type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (s *stubGenerator) Generate(context.Context, llm.Request) (string, error) {
	s.calls++
	return s.response, s.err
}

func TestClassifyAmbiguousWithoutFallback(t *testing.T) {
	c := New(nil, WithLLMFallback(false))

	got := c.Classify(context.Background(), "trading strategies", domain.QueryContext{})

	assert.Equal(t, domain.TaskQA, got.TaskType)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, domain.MethodRules, got.Method)
	assert.Equal(t, []domain.Source{domain.SourceRAG}, got.RequiredSources)
	assert.Equal(t, domain.FormatMarkdown, got.OutputFormat)
	assert.Equal(t, domain.ComplexitySimple, got.Complexity)
	assert.True(t, got.Entities.Empty())
}

func TestClassifyAmbiguousUsesOracle(t *testing.T) {
	gen := &stubGenerator{response: `Sure. {"task_type": "qa", "output_format": "markdown", "confidence": 0.85}`}
	c := New(gen)

	got := c.Classify(context.Background(), "trading strategies", domain.QueryContext{})

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, domain.TaskQA, got.TaskType)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, domain.MethodLLM, got.Method)
	assert.Equal(t, []domain.Source{domain.SourceRAG}, got.RequiredSources)
}

func TestClassifyOracleMergeIgnoresUnknownValues(t *testing.T) {
	gen := &stubGenerator{response: `{"task_type": "summarize", "output_format": "yaml", "confidence": 3}`}
	c := New(gen)

	got := c.Classify(context.Background(), "the big picture on interest rates", domain.QueryContext{})

	assert.Equal(t, domain.TaskSummarize, got.TaskType)
	assert.Equal(t, domain.FormatMarkdown, got.OutputFormat)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestClassifyOracleFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{name: "error", gen: &stubGenerator{err: domain.ErrOracleTimeout}},
		{name: "prose", gen: &stubGenerator{response: "This looks like a question."}},
		{name: "unknown task", gen: &stubGenerator{response: `{"task_type": "poem"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.gen).Classify(context.Background(), "trading strategies", domain.QueryContext{})
			assert.Equal(t, domain.TaskQA, got.TaskType)
			assert.Equal(t, domain.FormatMarkdown, got.OutputFormat)
			assert.Equal(t, 0.5, got.Confidence)
			assert.Equal(t, domain.MethodDefault, got.Method)
			assert.NotEmpty(t, got.RequiredSources)
		})
	}
}

func TestClassifyStrongSignalsSkipOracle(t *testing.T) {
	gen := &stubGenerator{response: `{"task_type": "code"}`}
	c := New(gen)

	got := c.Classify(context.Background(), "What is AAPL's RSI today?", domain.QueryContext{})

	assert.Zero(t, gen.calls)
	assert.Equal(t, domain.MethodRules, got.Method)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, []string{"AAPL"}, got.Entities.Tickers)
	assert.Equal(t, []string{"RSI"}, got.Entities.Indicators)
	assert.Equal(t, []string{"today"}, got.Entities.Dates)
	assert.Equal(t, []domain.Source{domain.SourceWeb}, got.RequiredSources)
}

func TestClassifyTaskTypes(t *testing.T) {
	c := New(nil)

	tests := []struct {
		query      string
		task       domain.TaskType
		format     domain.OutputFormat
		complexity domain.Complexity
	}{
		{"Compare MSFT versus GOOGL", domain.TaskCompare, domain.FormatMarkdown, domain.ComplexityMedium},
		{"summarize the uploaded report as a table", domain.TaskSummarize, domain.FormatTable, domain.ComplexitySimple},
		{"Write a python function to backtest an EMA crossover and return JSON", domain.TaskCode, domain.FormatJSON, domain.ComplexityMedium},
		{"tl;dr of the quarterly filings", domain.TaskSummarize, domain.FormatMarkdown, domain.ComplexitySimple},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.query, domain.QueryContext{})
			assert.Equal(t, tt.task, got.TaskType)
			assert.Equal(t, tt.format, got.OutputFormat)
			assert.Equal(t, tt.complexity, got.Complexity)
			assert.Equal(t, domain.MethodRules, got.Method)
		})
	}
}

func TestClassifyEntitiesAndSources(t *testing.T) {
	c := New(nil, WithLLMFallback(false))

	got := c.Classify(context.Background(), "Compare MSFT versus GOOGL", domain.QueryContext{})
	assert.Equal(t, []string{"GOOGL", "MSFT"}, got.Entities.Tickers)

	got = c.Classify(context.Background(), "check #trading and [[Risk Plan]] in my notes", domain.QueryContext{})
	assert.Equal(t, []domain.Source{domain.SourcePersonalNotes}, got.RequiredSources)

	got = c.Classify(context.Background(), "what does the PDF at https://example.com/NVDA.pdf say", domain.QueryContext{})
	assert.Equal(t, []domain.Source{domain.SourceRAG, domain.SourceWeb}, got.RequiredSources)
	assert.Empty(t, got.Entities.Tickers)

	got = c.Classify(context.Background(), "earnings moves in Q1 2024 and on 2023-05-01", domain.QueryContext{})
	assert.Equal(t, []string{"2023-05-01", "Q1 2024"}, got.Entities.Dates)

	got = c.Classify(context.Background(), "bollinger bands and moving averages for I and A", domain.QueryContext{})
	assert.Equal(t, []string{"bollinger bands", "moving averages"}, got.Entities.Indicators)
	assert.Empty(t, got.Entities.Tickers)
}

func TestClassifyIgnoresJoinedAbbreviations(t *testing.T) {
	gen := &stubGenerator{response: `{"task_type": "qa", "confidence": 0.8}`}
	c := New(gen)

	got := c.Classify(context.Background(), "is the S&P 500 P/E ratio high after M&A deals", domain.QueryContext{})
	assert.Empty(t, got.Entities.Tickers)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, domain.MethodLLM, got.Method)

	got = New(nil, WithLLMFallback(false)).Classify(context.Background(), "AAPL/MSFT spread and AT&T", domain.QueryContext{})
	assert.Equal(t, []string{"AAPL", "MSFT"}, got.Entities.Tickers)
}

func TestClassifyFollowUpInheritsTickers(t *testing.T) {
	c := New(nil, WithLLMFallback(false))

	got := c.Classify(context.Background(), "what about its margins?", domain.QueryContext{
		PriorQuery: "How is NVDA doing this quarter?",
	})
	assert.Equal(t, []string{"NVDA"}, got.Entities.Tickers)

	got = c.Classify(context.Background(), "margins of chip makers", domain.QueryContext{
		PriorQuery: "How is NVDA doing this quarter?",
	})
	assert.Empty(t, got.Entities.Tickers)
}

func TestClassifyComplexityByLength(t *testing.T) {
	c := New(nil, WithLLMFallback(false))
	long := strings.Repeat("word ", 25)

	got := c.Classify(context.Background(), long, domain.QueryContext{})
	assert.Equal(t, domain.ComplexityComplex, got.Complexity)

	got = c.Classify(context.Background(), strings.Repeat("word ", 12), domain.QueryContext{})
	assert.Equal(t, domain.ComplexityMedium, got.Complexity)
}

func TestIsIndicatorAbbreviation(t *testing.T) {
	require.True(t, IsIndicatorAbbreviation("macd"))
	require.False(t, IsIndicatorAbbreviation("NVDA"))
}
