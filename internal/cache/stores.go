package cache

import (
	"context"
	"time"
)

// Stores holds the cache behind the pipeline and the one behind the
// embedder. Purger reaches both.
type Stores struct {
	Queries    Cache
	Embeddings Cache
	Purger     Purger
}

type PurgingCache interface {
	Cache
	Purger
}

// Shared puts both uses on one backend. Keys are prefixed ("uplift:",
// "embedding:") so they never collide.
func Shared(c PurgingCache) Stores {
	return Stores{Queries: c, Embeddings: c, Purger: c}
}

// MemoryStores gives queries and embeddings separate LRUs so a large corpus
// load cannot evict processed queries.
func MemoryStores(queryItems, embeddingItems int, ttl time.Duration) Stores {
	queries := NewMemory(queryItems, ttl)
	embeddings := NewMemory(embeddingItems, ttl)
	return Stores{
		Queries:    queries,
		Embeddings: embeddings,
		Purger:     purgers{queries, embeddings},
	}
}

type purgers []Purger

func (p purgers) Purge(ctx context.Context, prefix string) (int, error) {
	total := 0
	for _, one := range p {
		n, err := one.Purge(ctx, prefix)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
