package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/logger"
)

// Client implements cache.Cache on a Redis server. Every failure is wrapped
// in domain.ErrCacheUnavailable so callers can treat it as a miss.
type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.WrapError(domain.ErrCacheUnavailable, "redis.connect", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrCacheUnavailable, "redis.get", err)
	}

	logger.Debug("Cache hit", zap.String("key", key))
	return data, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrCacheUnavailable, "redis.set", err)
	}

	logger.Debug("Cache write", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Purge deletes every key under prefix with SCAN so large keyspaces do not
// block the server.
func (c *Client) Purge(ctx context.Context, prefix string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, domain.WrapError(domain.ErrCacheUnavailable, "redis.purge", err)
	}

	logger.Info("Cache purged", zap.String("prefix", prefix), zap.Int("removed", removed))
	return removed, nil
}
