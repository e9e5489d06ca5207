package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const defaultTopKTTL = 5 * time.Minute

// TopKCache implements domain.TopKCache. The orchestrator refreshes it after
// every committed run and readers back-fill it on a miss.
//
// The entry is a hash: field "data" holds the JSON-encoded generation and
// field "cached_at" the RFC 3339 write time.
type TopKCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewTopKCache creates a TopKCache whose entries expire after ttl
// (5 minutes when ttl is zero).
func NewTopKCache(c *Client, ttl time.Duration) *TopKCache {
	if ttl <= 0 {
		ttl = defaultTopKTTL
	}
	return &TopKCache{rdb: c.rdb, key: c.key("topk", "current"), ttl: ttl}
}

// Set stores markets as the cached generation.
func (tc *TopKCache) Set(ctx context.Context, markets []domain.Market) error {
	if markets == nil {
		markets = []domain.Market{}
	}
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal top-k: %w", err)
	}

	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, tc.key, "data", data, "cached_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, tc.key, tc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set top-k: %w", err)
	}
	return nil
}

// Get returns the cached generation, or domain.ErrNotFound on a miss.
func (tc *TopKCache) Get(ctx context.Context) ([]domain.Market, error) {
	data, err := tc.rdb.HGet(ctx, tc.key, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get top-k: %w", err)
	}

	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("redis: unmarshal top-k: %w", err)
	}
	return markets, nil
}

// Invalidate drops the cached generation.
func (tc *TopKCache) Invalidate(ctx context.Context) error {
	if err := tc.rdb.Del(ctx, tc.key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate top-k: %w", err)
	}
	return nil
}

var _ domain.TopKCache = (*TopKCache)(nil)
