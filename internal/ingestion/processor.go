package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/search/bm25"
	"github.com/querylift/backend/internal/vector/zilliz"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorWriter interface {
	Insert(ctx context.Context, chunks []zilliz.Chunk) error
	Delete(ctx context.Context, ids []string) error
}

// Processor splits corpus documents into chunks and writes every chunk to
// the keyword index and, when configured, the vector index under the same
// id so the fuser can merge hits from both.
type Processor struct {
	// mu serializes Process so the id check and the final keyword-index
	// write see the same index state.
	mu sync.Mutex

	lexical      *bm25.Index
	embedder     Embedder
	vector       VectorWriter
	chunkSize    int
	chunkOverlap int
	batchSize    int
}

func NewProcessor(lexical *bm25.Index, embedder Embedder, vector VectorWriter) *Processor {
	return &Processor{
		lexical:      lexical,
		embedder:     embedder,
		vector:       vector,
		chunkSize:    1000,
		chunkOverlap: 100,
		batchSize:    32,
	}
}

type Stats struct {
	Documents int
	Chunks    int
	Embedded  int
}

// LoadFile ingests a JSONL corpus, one {"id","text","metadata"} object per
// line. Blank lines are skipped.
func (p *Processor) LoadFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()
	return p.Load(ctx, f)
}

func (p *Processor) Load(ctx context.Context, r io.Reader) (Stats, error) {
	docs, err := ReadJSONL(r)
	if err != nil {
		return Stats{}, err
	}
	return p.Process(ctx, docs)
}

func ReadJSONL(r io.Reader) ([]bm25.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var docs []bm25.Document
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var d bm25.Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		if d.ID == "" {
			d.ID = utils.HashString(d.Text)[:16]
		}
		docs = append(docs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return docs, nil
}

// Process writes docs to both indexes or to neither. Ids are checked
// before anything is embedded, vectors are written before the keyword
// index, and vectors already inserted are deleted when a later write fails.
func (p *Processor) Process(ctx context.Context, docs []bm25.Document) (Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats Stats
	var chunks []bm25.Document

	for _, d := range docs {
		parts := p.chunkText(d.Text)
		for i, text := range parts {
			id := d.ID
			if len(parts) > 1 {
				id = fmt.Sprintf("%s#%d", d.ID, i)
			}
			chunks = append(chunks, bm25.Document{ID: id, Text: text, Metadata: d.Metadata})
		}
		stats.Documents++
	}

	if err := p.lexical.Check(chunks...); err != nil {
		return Stats{}, fmt.Errorf("failed to index chunks: %w", err)
	}

	var inserted []string
	if p.embedder != nil && p.vector != nil {
		vectors, err := p.embedAll(ctx, chunks)
		if err != nil {
			return Stats{}, err
		}
		inserted, err = p.insert(ctx, vectors)
		if err != nil {
			p.rollback(ctx, inserted)
			return Stats{}, err
		}
	}

	if err := p.lexical.Add(chunks...); err != nil {
		p.rollback(ctx, inserted)
		return Stats{}, fmt.Errorf("failed to index chunks: %w", err)
	}
	stats.Chunks = len(chunks)
	stats.Embedded = len(inserted)

	logger.Info("Corpus ingested",
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("embedded", stats.Embedded),
	)
	return stats, nil
}

func (p *Processor) embedAll(ctx context.Context, chunks []bm25.Document) ([]zilliz.Chunk, error) {
	out := make([]zilliz.Chunk, 0, len(chunks))
	for _, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %s: %w", c.ID, err)
		}
		out = append(out, zilliz.Chunk{ID: c.ID, Embedding: vec, Text: c.Text, Metadata: c.Metadata})
	}
	return out, nil
}

// insert writes vectors in batches and returns the ids of every batch that
// was accepted, including on error.
func (p *Processor) insert(ctx context.Context, vectors []zilliz.Chunk) ([]string, error) {
	ids := make([]string, 0, len(vectors))
	for start := 0; start < len(vectors); start += p.batchSize {
		end := min(start+p.batchSize, len(vectors))
		batch := vectors[start:end]
		if err := p.vector.Insert(ctx, batch); err != nil {
			return ids, fmt.Errorf("failed to insert into vector DB: %w", err)
		}
		for _, c := range batch {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (p *Processor) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.vector.Delete(context.WithoutCancel(ctx), ids); err != nil {
		logger.Error("Failed to roll back vector insert, indexes have diverged",
			zap.Int("chunks", len(ids)),
			zap.Error(err),
		)
	}
}

// chunkText splits on word boundaries into chunks of about chunkSize bytes,
// carrying the last few words of each chunk into the next.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	size := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if size+wordLen > p.chunkSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))

			overlap := strings.Fields(current.String())
			start := max(0, len(overlap)-p.chunkOverlap/10)
			current.Reset()
			current.WriteString(strings.Join(overlap[start:], " ") + " ")
			size = current.Len()
		}

		current.WriteString(word + " ")
		size += wordLen
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}
