package domain

import (
	"context"
	"time"
)

// TopKCache holds a read-through copy of the current top-K generation.
type TopKCache interface {
	Set(ctx context.Context, markets []Market) error
	// Get returns ErrNotFound on a cache miss.
	Get(ctx context.Context) ([]Market, error)
	Invalidate(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRecent returns up to count of the newest entries, oldest first.
	StreamRecent(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// Signal bus channel and stream names for membership events.
const (
	TrendChannel = "ch:trend"
	TrendStream  = "stream:trend"
)
