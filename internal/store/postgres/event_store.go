package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, market_id, title, kind, new_rank, old_rank, volume_24h, created_at`

// Insert appends a membership event.
func (s *EventStore) Insert(ctx context.Context, ev domain.TrendingEvent) error {
	const query = `
		INSERT INTO trending_events (
			market_id, title, kind, new_rank, old_rank, volume_24h, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		ev.MarketID, ev.Title, string(ev.Kind), ev.NewRank, ev.OldRank, ev.Volume24h, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s event %s: %w", ev.Kind, ev.MarketID, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.TrendingEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM trending_events
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	return events, nil
}

// CountSince counts events created at or after since.
func (s *EventStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trending_events WHERE created_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return count, nil
}

// ListBefore returns every event created strictly before the cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TrendingEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM trending_events
		 WHERE created_at < $1
		 ORDER BY created_at ASC, id ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	return events, nil
}

// DeleteBefore removes every event created strictly before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trending_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectEvents(rows pgx.Rows) ([]domain.TrendingEvent, error) {
	defer rows.Close()

	events := []domain.TrendingEvent{}
	for rows.Next() {
		var ev domain.TrendingEvent
		var kind string
		if err := rows.Scan(
			&ev.ID, &ev.MarketID, &ev.Title, &kind, &ev.NewRank, &ev.OldRank, &ev.Volume24h, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}
