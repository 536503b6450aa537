package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL. Implementations must be safe for
// concurrent use; the last write for a key wins.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Purger is implemented by caches that can drop every key under a prefix.
type Purger interface {
	Purge(ctx context.Context, prefix string) (int, error)
}
