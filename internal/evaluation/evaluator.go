package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/query"
	"github.com/querylift/backend/pkg/logger"
)

// EvaluationUser tags history rows written by evaluation runs.
const EvaluationUser = "evaluation"

// Searcher is the slice of the query engine an evaluation needs.
type Searcher interface {
	Search(ctx context.Context, q string, qctx domain.QueryContext, profile domain.Profile) query.SearchResult
	Retrieve(ctx context.Context, q string, params domain.RetrievalParams) []domain.Candidate
}

type Evaluator struct {
	searcher Searcher
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query       string         `json:"query"`
	RelevantIDs []string       `json:"relevant_ids"`
	Category    string         `json:"category,omitempty"`
	Profile     domain.Profile `json:"profile,omitempty"`
}

// ItemResult compares retrieval for the raw query against retrieval for the
// processed one, both cut to the same top_k.
type ItemResult struct {
	Query          string  `json:"query"`
	FinalQuery     string  `json:"final_query"`
	UsedOriginal   bool    `json:"used_original"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
	Confidence     float64 `json:"uplift_confidence"`
	BaselineRecall float64 `json:"baseline_recall"`
	UpliftRecall   float64 `json:"uplift_recall"`
	BaselineRR     float64 `json:"baseline_reciprocal_rank"`
	UpliftRR       float64 `json:"uplift_reciprocal_rank"`
}

type EvaluationReport struct {
	TotalQueries        int            `json:"total_queries"`
	AcceptedCount       int            `json:"accepted_count"`
	AcceptedPercentage  float64        `json:"accepted_percentage"`
	FallbackCounts      map[string]int `json:"fallback_counts"`
	AvgUpliftConfidence float64        `json:"avg_uplift_confidence"`
	BaselineRecall      float64        `json:"baseline_recall"`
	UpliftRecall        float64        `json:"uplift_recall"`
	BaselineMRR         float64        `json:"baseline_mrr"`
	UpliftMRR           float64        `json:"uplift_mrr"`
	Items               []ItemResult   `json:"items"`
}

func NewEvaluator(searcher Searcher) *Evaluator {
	return &Evaluator{
		searcher: searcher,
	}
}

func (e *Evaluator) EvaluateQuery(ctx context.Context, item DatasetItem) ItemResult {
	res := e.searcher.Search(ctx, item.Query, domain.QueryContext{UserID: EvaluationUser}, item.Profile)
	baseline := e.searcher.Retrieve(ctx, item.Query, res.Params)
	if res.Params.TopK >= 0 && len(baseline) > res.Params.TopK {
		baseline = baseline[:res.Params.TopK]
	}

	relevant := make(map[string]bool, len(item.RelevantIDs))
	for _, id := range item.RelevantIDs {
		relevant[id] = true
	}

	result := ItemResult{
		Query:          item.Query,
		FinalQuery:     res.Processed.FinalQuery,
		UsedOriginal:   res.Processed.UsedOriginal,
		FallbackReason: res.Processed.Metadata.FallbackReason,
		Confidence:     res.Processed.UpliftConfidence,
	}
	result.BaselineRecall, result.BaselineRR = score(baseline, relevant)
	result.UpliftRecall, result.UpliftRR = score(res.Context, relevant)

	logger.Debug("Query evaluated",
		zap.String("query_id", res.Processed.Metadata.QueryID),
		zap.Float64("baseline_recall", result.BaselineRecall),
		zap.Float64("uplift_recall", result.UpliftRecall),
	)
	return result
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		FallbackCounts: map[string]int{},
		Items:          make([]ItemResult, 0, len(dataset.Items)),
	}

	var totalConfidence, baseRecall, upRecall, baseRR, upRR float64

	for _, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(item.Query) == "" || len(item.RelevantIDs) == 0 {
			logger.Warn("Skipping evaluation item without query or relevant ids")
			continue
		}

		result := e.EvaluateQuery(ctx, item)
		report.Items = append(report.Items, result)
		report.TotalQueries++

		if !result.UsedOriginal {
			report.AcceptedCount++
		}
		if result.FallbackReason != "" {
			report.FallbackCounts[result.FallbackReason]++
		}

		totalConfidence += result.Confidence
		baseRecall += result.BaselineRecall
		upRecall += result.UpliftRecall
		baseRR += result.BaselineRR
		upRR += result.UpliftRR
	}

	if report.TotalQueries > 0 {
		n := float64(report.TotalQueries)
		report.AcceptedPercentage = float64(report.AcceptedCount) / n * 100
		report.AvgUpliftConfidence = totalConfidence / n
		report.BaselineRecall = baseRecall / n
		report.UpliftRecall = upRecall / n
		report.BaselineMRR = baseRR / n
		report.UpliftMRR = upRR / n
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("accepted", report.AcceptedCount),
		zap.Float64("baseline_recall", report.BaselineRecall),
		zap.Float64("uplift_recall", report.UpliftRecall),
	)

	return report, nil
}

// score returns recall and reciprocal rank of candidates against relevant
// document ids. Chunk ids of the form "doc#n" count for "doc".
func score(candidates []domain.Candidate, relevant map[string]bool) (float64, float64) {
	if len(relevant) == 0 {
		return 0, 0
	}

	found := make(map[string]bool, len(relevant))
	rr := 0.0
	for i, c := range candidates {
		id, _, _ := strings.Cut(c.ID, "#")
		if !relevant[id] || found[id] {
			continue
		}
		found[id] = true
		if rr == 0 {
			rr = 1 / float64(i+1)
		}
	}
	return float64(len(found)) / float64(len(relevant)), rr
}

func LoadDataset(r io.Reader) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	return &dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d
Uplift Accepted: %d (%.1f%%)
Fallbacks: %v
Average Uplift Confidence: %.3f

Retrieval (top_k):
- Recall: %.3f baseline, %.3f uplifted
- MRR: %.3f baseline, %.3f uplifted
`,
		report.TotalQueries,
		report.AcceptedCount, report.AcceptedPercentage,
		report.FallbackCounts,
		report.AvgUpliftConfidence,
		report.BaselineRecall, report.UpliftRecall,
		report.BaselineMRR, report.UpliftMRR,
	)
}
