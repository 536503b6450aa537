package domain

import "sort"

type TaskType string

const (
	TaskQA        TaskType = "qa"
	TaskSummarize TaskType = "summarize"
	TaskCompare   TaskType = "compare"
	TaskCode      TaskType = "code"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskQA, TaskSummarize, TaskCompare, TaskCode:
		return true
	}
	return false
}

type Source string

const (
	SourceRAG           Source = "rag"
	SourceWeb           Source = "web"
	SourcePersonalNotes Source = "personal_notes"
)

type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatTable    OutputFormat = "table"
)

func (f OutputFormat) Valid() bool {
	switch f {
	case FormatMarkdown, FormatJSON, FormatTable:
		return true
	}
	return false
}

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

type ClassificationMethod string

const (
	MethodRules   ClassificationMethod = "rules"
	MethodLLM     ClassificationMethod = "llm"
	MethodDefault ClassificationMethod = "default"
)

type Entities struct {
	Tickers    []string `json:"tickers"`
	Indicators []string `json:"indicators"`
	Dates      []string `json:"dates"`
}

func (e Entities) Empty() bool {
	return len(e.Tickers) == 0 && len(e.Indicators) == 0 && len(e.Dates) == 0
}

// Classification is produced once per query and never modified afterwards.
type Classification struct {
	TaskType        TaskType             `json:"task_type"`
	RequiredSources []Source             `json:"required_sources"`
	Entities        Entities             `json:"entities"`
	OutputFormat    OutputFormat         `json:"output_format"`
	Complexity      Complexity           `json:"complexity"`
	Confidence      float64              `json:"confidence"`
	Method          ClassificationMethod `json:"method"`
}

// HasSource reports whether s is among the required sources.
func (c Classification) HasSource(s Source) bool {
	for _, src := range c.RequiredSources {
		if src == s {
			return true
		}
	}
	return false
}

type UpliftedPrompt struct {
	Original       string         `json:"original"`
	Improved       string         `json:"improved"`
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	UsedTemplate   bool           `json:"used_template"`
	Violations     []string       `json:"violations,omitempty"`
}

// QueryContext carries the caller-side facts about a query.
type QueryContext struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	PreviousHits   int    `json:"previous_hits"`
	PriorQuery     string `json:"prior_query,omitempty"`
}

type QueryMetadata struct {
	QueryID        string       `json:"query_id"`
	OriginalQuery  string       `json:"original_query"`
	TaskType       TaskType     `json:"task_type"`
	Entities       Entities     `json:"entities"`
	Complexity     Complexity   `json:"complexity"`
	LatencyMS      int64        `json:"latency_ms"`
	CacheHit       bool         `json:"cache_hit"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
	OutputFormat   OutputFormat `json:"output_format"`
}

type ProcessedQuery struct {
	FinalQuery       string         `json:"final_query"`
	Expansions       []string       `json:"expansions"`
	UsedOriginal     bool           `json:"used_original"`
	Classification   Classification `json:"classification"`
	UpliftConfidence float64        `json:"uplift_confidence"`
	Degraded         bool           `json:"degraded"`
	Metadata         QueryMetadata  `json:"metadata"`
}

// Queries returns the final query followed by its expansions.
func (p ProcessedQuery) Queries() []string {
	out := make([]string, 0, 1+len(p.Expansions))
	out = append(out, p.FinalQuery)
	return append(out, p.Expansions...)
}

type Profile string

const (
	ProfileSimple   Profile = "simple"
	ProfileMedium   Profile = "medium"
	ProfileComplex  Profile = "complex"
	ProfileResearch Profile = "research"
)

type RetrievalParams struct {
	Profile       Profile `json:"profile"`
	BM25TopK      int     `json:"bm25_top_k"`
	EmbeddingTopK int     `json:"embedding_top_k"`
	RerankTopK    int     `json:"rerank_top_k"`
	TopK          int     `json:"top_k"`
}

// LexicalResult is one hit from the keyword index. Score is non-negative.
type LexicalResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// SemanticResult is one hit from the vector index after distance has been
// converted to similarity.
type SemanticResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

type Candidate struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LexicalScore  *float64       `json:"lexical_score,omitempty"`
	SemanticScore *float64       `json:"semantic_score,omitempty"`
	RerankScore   *float64       `json:"rerank_score,omitempty"`
}

func Float(v float64) *float64 {
	return &v
}

// SortedUnique returns the distinct values of in, sorted.
func SortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
