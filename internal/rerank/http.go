package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/circuitbreaker"
	"github.com/querylift/backend/pkg/logger"
)

// HTTPScorer calls a cross-encoder service.
//
// Request:  {"query": "...", "texts": ["...", "..."]}
// Response: {"scores": [0.9, 0.1]}
type HTTPScorer struct {
	endpoint string
	client   *http.Client
	cb       *circuitbreaker.Breaker
}

func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScorer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		cb: circuitbreaker.New("rerank", circuitbreaker.Config{
			Logger: logger.GetLogger(),
		}),
	}
}

type scoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(scoreRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	var out scoreResponse
	err = s.cb.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrOracleFailure, "rerank.score", err)
	}

	if len(out.Scores) != len(texts) {
		return nil, domain.WrapError(domain.ErrOracleFailure, "rerank.score",
			fmt.Errorf("got %d scores for %d texts", len(out.Scores), len(texts)))
	}
	return out.Scores, nil
}
