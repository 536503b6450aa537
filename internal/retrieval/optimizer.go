package retrieval

import (
	"regexp"
	"strings"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/utils"
)

var profiles = map[domain.Profile]domain.RetrievalParams{
	domain.ProfileSimple:   {Profile: domain.ProfileSimple, BM25TopK: 10, EmbeddingTopK: 10, RerankTopK: 5, TopK: 3},
	domain.ProfileMedium:   {Profile: domain.ProfileMedium, BM25TopK: 20, EmbeddingTopK: 20, RerankTopK: 10, TopK: 5},
	domain.ProfileComplex:  {Profile: domain.ProfileComplex, BM25TopK: 30, EmbeddingTopK: 30, RerankTopK: 15, TopK: 8},
	domain.ProfileResearch: {Profile: domain.ProfileResearch, BM25TopK: 50, EmbeddingTopK: 50, RerankTopK: 25, TopK: 12},
}

var complexityIndicators = map[string]bool{
	"how": true, "why": true, "explain": true, "analyze": true, "analyse": true,
	"compare": true, "impact": true, "relationship": true, "evaluate": true,
	"difference": true, "tradeoff": true, "tradeoffs": true, "versus": true, "between": true,
}

var technicalTerms = map[string]bool{
	"volatility": true, "derivative": true, "derivatives": true, "options": true, "futures": true,
	"portfolio": true, "hedge": true, "hedging": true, "arbitrage": true, "liquidity": true,
	"yield": true, "duration": true, "convexity": true, "beta": true, "alpha": true,
	"sharpe": true, "backtest": true, "indicator": true, "correlation": true, "covariance": true,
	"regression": true, "algorithm": true, "api": true, "latency": true, "throughput": true,
	"database": true, "embedding": true, "vector": true, "index": true, "kubernetes": true,
	"rsi": true, "macd": true, "ema": true, "sma": true, "vwap": true,
}

var researchPattern = regexp.MustCompile(`(?i)\b(?:research|comprehensive|in-depth|thorough|literature|survey|systematic\s+review|all\s+aspects|deep\s+dive)\b`)

// Profile returns the canonical parameters for a named profile.
func Profile(name domain.Profile) (domain.RetrievalParams, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Optimize picks retrieval breadth from the query alone. It is pure.
func Optimize(query string) domain.RetrievalParams {
	words := utils.WordCount(query)
	questions := strings.Count(query, "?")

	complexity, technical := 0, 0
	seen := make(map[string]bool)
	for _, tok := range utils.Tokenize(query) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if complexityIndicators[tok] {
			complexity++
		}
		if technicalTerms[tok] {
			technical++
		}
	}

	switch {
	case researchPattern.MatchString(query) || words > 30 || questions >= 2:
		return profiles[domain.ProfileResearch]
	case complexity >= 2 || words > 15 || technical > 2:
		return profiles[domain.ProfileComplex]
	case words > 5 || complexity > 0 || technical > 0:
		return profiles[domain.ProfileMedium]
	default:
		return profiles[domain.ProfileSimple]
	}
}
