package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/retrieval"
	"github.com/querylift/backend/pkg/circuitbreaker"
	"github.com/querylift/backend/pkg/logger"
)

const (
	fieldID        = "chunk_id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldMetadata  = "metadata"
)

// Client is the semantic backend. Hits are scored with COSINE and reported
// as distances (1 - similarity).
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	cb             *circuitbreaker.Breaker
}

type Chunk struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  map[string]any
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return newWithClient(c, collectionName, vectorDim), nil
}

func newWithClient(c client.Client, collectionName string, vectorDim int) *Client {
	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		cb: circuitbreaker.New("vector", circuitbreaker.Config{
			Logger: logger.GetLogger(),
		}),
	}
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "corpus chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       fieldMetadata,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	metas := make([]string, len(chunks))

	for i, chunk := range chunks {
		if len(chunk.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", chunk.ID, len(chunk.Embedding), z.vectorDim)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", chunk.ID, err)
		}
		metas[i] = string(meta)
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldMetadata, metas),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

// Delete removes chunks by id. It undoes an Insert whose companion
// keyword-index write failed.
func (z *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ","))

	if err := z.client.Delete(ctx, z.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	logger.Info("Chunks deleted from vector DB", zap.Int("count", len(ids)))
	return nil
}

// Search returns up to topK hits ordered by the index. Distance is
// 1 - cosine similarity so lower is closer.
func (z *Client) Search(ctx context.Context, vector []float32, topK int) ([]retrieval.SemanticHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return []retrieval.SemanticHit{}, nil
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var results []client.SearchResult
	err = z.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		results, err = z.client.Search(
			ctx,
			z.collectionName,
			[]string{},
			"",
			[]string{fieldID, fieldText, fieldMetadata},
			[]entity.Vector{entity.FloatVector(vector)},
			fieldEmbedding,
			entity.COSINE,
			topK,
			sp,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]retrieval.SemanticHit, 0, topK)
	for _, sr := range results {
		idCol := sr.Fields.GetColumn(fieldID)
		textCol := sr.Fields.GetColumn(fieldText)
		metaCol := sr.Fields.GetColumn(fieldMetadata)
		if idCol == nil || textCol == nil {
			return nil, fmt.Errorf("search result missing %s or %s column", fieldID, fieldText)
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldID, err)
			}
			text, err := textCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldText, err)
			}

			hits = append(hits, retrieval.SemanticHit{
				ID:       id,
				Text:     text,
				Metadata: decodeMetadata(metaCol, i),
				Distance: 1 - float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
	)
	return hits, nil
}

func decodeMetadata(col entity.Column, i int) map[string]any {
	if col == nil {
		return nil
	}
	raw, err := col.GetAsString(i)
	if err != nil || raw == "" || raw == "null" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}
