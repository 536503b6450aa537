package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/query"
)

// fakeSearcher returns the uplifted ranking for Search and the baseline
// ranking for Retrieve.
type fakeSearcher struct {
	uplifted []domain.Candidate
	baseline []domain.Candidate
	reason   string
}

func (f fakeSearcher) Search(_ context.Context, q string, qctx domain.QueryContext, _ domain.Profile) query.SearchResult {
	return query.SearchResult{
		Processed: domain.ProcessedQuery{
			FinalQuery:       "Explain " + q,
			UsedOriginal:     f.reason != "",
			UpliftConfidence: 0.8,
			Metadata:         domain.QueryMetadata{QueryID: qctx.UserID, FallbackReason: f.reason},
		},
		Params:  domain.RetrievalParams{TopK: 2},
		Context: f.uplifted,
	}
}

func (f fakeSearcher) Retrieve(context.Context, string, domain.RetrievalParams) []domain.Candidate {
	return f.baseline
}

func ids(in ...string) []domain.Candidate {
	out := make([]domain.Candidate, len(in))
	for i, id := range in {
		out[i] = domain.Candidate{ID: id}
	}
	return out
}

func TestEvaluateQueryComparesRankings(t *testing.T) {
	e := NewEvaluator(fakeSearcher{
		uplifted: ids("d1#0", "d2"),
		baseline: ids("x", "y", "d1"),
	})

	res := e.EvaluateQuery(context.Background(), DatasetItem{Query: "bond ladders", RelevantIDs: []string{"d1", "d2"}})

	assert.Equal(t, "Explain bond ladders", res.FinalQuery)
	assert.InDelta(t, 1.0, res.UpliftRecall, 1e-9)
	assert.InDelta(t, 1.0, res.UpliftRR, 1e-9)
	// baseline is cut to top_k=2, so d1 at rank 3 is not counted.
	assert.Zero(t, res.BaselineRecall)
	assert.Zero(t, res.BaselineRR)
}

func TestScoreCountsEachDocumentOnce(t *testing.T) {
	recall, rr := score(ids("a", "d1#0", "d1#1"), map[string]bool{"d1": true, "d2": true})
	assert.InDelta(t, 0.5, recall, 1e-9)
	assert.InDelta(t, 0.5, rr, 1e-9)
}

func TestRunDatasetEvaluation(t *testing.T) {
	e := NewEvaluator(fakeSearcher{
		uplifted: ids("d1"),
		baseline: ids("d2", "d1"),
		reason:   "low_confidence",
	})

	report, err := e.RunDatasetEvaluation(context.Background(), &EvaluationDataset{Items: []DatasetItem{
		{Query: "q1", RelevantIDs: []string{"d1"}},
		{Query: "q2", RelevantIDs: []string{"d1"}},
		{Query: "   ", RelevantIDs: []string{"d1"}},
		{Query: "q4"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalQueries)
	assert.Zero(t, report.AcceptedCount)
	assert.Equal(t, map[string]int{"low_confidence": 2}, report.FallbackCounts)
	assert.InDelta(t, 1.0, report.UpliftMRR, 1e-9)
	assert.InDelta(t, 0.5, report.BaselineMRR, 1e-9)
	assert.InDelta(t, 0.8, report.AvgUpliftConfidence, 1e-9)
	assert.Contains(t, GenerateReport(report), "Total Queries: 2")
}

func TestRunDatasetEvaluationStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(fakeSearcher{}).RunDatasetEvaluation(ctx, &EvaluationDataset{Items: []DatasetItem{{Query: "q", RelevantIDs: []string{"a"}}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDataset(t *testing.T) {
	ds, err := LoadDataset(strings.NewReader(`{"items":[{"query":"rsi","relevant_ids":["d1"],"profile":"simple"}]}`))
	require.NoError(t, err)
	require.Len(t, ds.Items, 1)
	assert.Equal(t, domain.ProfileSimple, ds.Items[0].Profile)

	_, err = LoadDataset(strings.NewReader("{"))
	assert.Error(t, err)
}
