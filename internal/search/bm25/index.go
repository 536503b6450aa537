package bm25

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/utils"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type posting struct {
	doc int
	tf  int
}

// Index is an in-memory Okapi BM25 keyword index. Search is safe to call
// while documents are being added.
type Index struct {
	mu       sync.RWMutex
	k1       float64
	b        float64
	docs     []Document
	lengths  []int
	byID     map[string]int
	postings map[string][]posting
	totalLen int
}

func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	return &Index{
		k1:       k1,
		b:        b,
		byID:     make(map[string]int),
		postings: make(map[string][]posting),
	}
}

// Terms is the document-side tokenizer. It matches retrieval.QueryTokens so
// query and corpus agree on vocabulary.
func Terms(text string) []string {
	tokens := utils.Tokenize(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if !utils.IsStopWord(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// Check reports whether Add would accept docs, without changing the index.
func (x *Index) Check(docs ...Document) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.check(docs)
}

func (x *Index) check(docs []Document) error {
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document without id")
		}
		if _, dup := x.byID[d.ID]; dup || seen[d.ID] {
			return fmt.Errorf("duplicate document id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Add indexes every document or, when any id is missing or already taken,
// none of them.
func (x *Index) Add(docs ...Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.check(docs); err != nil {
		return err
	}

	for _, d := range docs {
		terms := Terms(d.Text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}

		idx := len(x.docs)
		x.docs = append(x.docs, d)
		x.lengths = append(x.lengths, len(terms))
		x.byID[d.ID] = idx
		x.totalLen += len(terms)
		for term, n := range tf {
			x.postings[term] = append(x.postings[term], posting{doc: idx, tf: n})
		}
	}
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search scores every document containing at least one token. Documents
// with equal scores keep insertion order.
func (x *Index) Search(ctx context.Context, tokens []string, topK int) ([]domain.LexicalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(tokens) == 0 {
		return []domain.LexicalResult{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docs)
	if n == 0 {
		return []domain.LexicalResult{}, nil
	}
	avgLen := float64(x.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[int]float64)
	seen := make(map[string]struct{}, len(tokens))
	for _, term := range tokens {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}

		list := x.postings[term]
		if len(list) == 0 {
			continue
		}
		df := float64(len(list))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for _, p := range list {
			tf := float64(p.tf)
			norm := x.k1 * (1 - x.b + x.b*float64(x.lengths[p.doc])/avgLen)
			scores[p.doc] += idf * tf * (x.k1 + 1) / (tf + norm)
		}
	}

	order := make([]int, 0, len(scores))
	for doc := range scores {
		order = append(order, doc)
	}
	sort.Slice(order, func(i, j int) bool {
		si, sj := scores[order[i]], scores[order[j]]
		if si != sj {
			return si > sj
		}
		return order[i] < order[j]
	})
	if len(order) > topK {
		order = order[:topK]
	}

	results := make([]domain.LexicalResult, 0, len(order))
	for _, doc := range order {
		d := x.docs[doc]
		results = append(results, domain.LexicalResult{
			ID:       d.ID,
			Text:     d.Text,
			Metadata: d.Metadata,
			Score:    scores[doc],
		})
	}
	return results, nil
}
