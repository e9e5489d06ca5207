package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore owns the markets table and the current top-K flag.
type MarketStore interface {
	// CurrentTopK returns the flagged generation ordered by 24h volume, highest first.
	CurrentTopK(ctx context.Context) ([]Market, error)
	// ReplaceTopK unflags the current generation and upserts set as the new one.
	// Readers never observe a mix of the two generations.
	ReplaceTopK(ctx context.Context, set []CanonicalMarket, now time.Time) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByCategory(ctx context.Context, category string, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	// DeleteStale removes unflagged markets last updated before the cutoff.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotStore persists the append-only top-K history.
type SnapshotStore interface {
	Insert(ctx context.Context, snap MarketSnapshot) error
	// History returns snapshots of marketID captured at or after since, oldest first.
	History(ctx context.Context, marketID string, since time.Time) ([]MarketSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]MarketSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	// Oldest returns the capture time of the earliest snapshot, or ErrNotFound.
	Oldest(ctx context.Context) (time.Time, error)
}

// EventStore persists the append-only membership event log.
type EventStore interface {
	Insert(ctx context.Context, ev TrendingEvent) error
	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, limit int) ([]TrendingEvent, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time) ([]TrendingEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first. A non-empty prefix restricts the
	// result to events whose name starts with it, e.g. "run.".
	List(ctx context.Context, prefix string, opts ListOpts) ([]AuditEntry, error)
}

// Audit event names.
const (
	AuditRunCompleted = "run.completed"
	AuditRunFailed    = "run.failed"
	AuditArchived     = "archive.uploaded"
)
