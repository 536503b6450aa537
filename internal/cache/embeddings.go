package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/pkg/logger"
	"github.com/querylift/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder memoizes embeddings under "embedding:" + sha256(text).
// Cache faults are logged and never fail the call.
type CachedEmbedder struct {
	inner Embedder
	store Cache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, store Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "embedding:" + utils.HashString(text)

	if data, ok, err := e.store.Get(ctx, key); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil {
			metrics.CacheRequests.WithLabelValues("embedding_hit").Inc()
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(vec)
	if err == nil {
		err = e.store.Set(ctx, key, data, e.ttl)
	}
	if err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}
