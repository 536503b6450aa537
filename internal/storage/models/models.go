package models

import "time"

// QueryRecord is one processed query as kept in the history table.
type QueryRecord struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ConversationID   string    `json:"conversation_id"`
	QueryText        string    `json:"query_text"`
	FinalQuery       string    `json:"final_query"`
	Expansions       []string  `json:"expansions"`
	TaskType         string    `json:"task_type"`
	Complexity       string    `json:"complexity"`
	UpliftConfidence float64   `json:"uplift_confidence"`
	UsedOriginal     bool      `json:"used_original"`
	Degraded         bool      `json:"degraded"`
	CacheHit         bool      `json:"cache_hit"`
	FallbackReason   string    `json:"fallback_reason,omitempty"`
	Profile          string    `json:"profile,omitempty"`
	CandidateCount   int       `json:"candidate_count"`
	LatencyMS        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// QuerySource is one fused candidate returned for a query, in rank order.
type QuerySource struct {
	QueryID       string   `json:"query_id"`
	Rank          int      `json:"rank"`
	CandidateID   string   `json:"candidate_id"`
	LexicalScore  *float64 `json:"lexical_score"`
	SemanticScore *float64 `json:"semantic_score"`
	RerankScore   *float64 `json:"rerank_score"`
}

type Feedback struct {
	ID        int64     `json:"id"`
	QueryID   string    `json:"query_id"`
	Helpful   bool      `json:"helpful"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
