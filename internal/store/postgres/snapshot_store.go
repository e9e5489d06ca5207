package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `id, market_id, title, yes_price, no_price,
	volume_24h, total_volume, rank, captured_at`

// Insert appends a single snapshot row.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO market_snapshots (
			market_id, title, yes_price, no_price,
			volume_24h, total_volume, rank, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		snap.MarketID, snap.Title, snap.Yes, snap.No,
		snap.Volume24h, snap.TotalVolume, snap.Rank, snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s rank %d: %w", snap.MarketID, snap.Rank, err)
	}
	return nil
}

// History returns marketID's snapshots captured at or after since, oldest first.
func (s *SnapshotStore) History(ctx context.Context, marketID string, since time.Time) ([]domain.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM market_snapshots
		 WHERE market_id = $1 AND captured_at >= $2
		 ORDER BY captured_at ASC, id ASC`, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot history %s: %w", marketID, err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot history %s: %w", marketID, err)
	}
	return snaps, nil
}

// ListBefore returns every snapshot captured strictly before the cutoff.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM market_snapshots
		 WHERE captured_at < $1
		 ORDER BY captured_at ASC, id ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes every snapshot captured strictly before the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_snapshots WHERE captured_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of stored snapshots.
func (s *SnapshotStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM market_snapshots").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count snapshots: %w", err)
	}
	return count, nil
}

// Oldest returns the earliest capture time, or domain.ErrNotFound when the
// history is empty.
func (s *SnapshotStore) Oldest(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT captured_at FROM market_snapshots ORDER BY captured_at ASC LIMIT 1`).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("postgres: oldest snapshot: %w", err)
	}
	return t.UTC(), nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.MarketSnapshot, error) {
	defer rows.Close()

	snaps := []domain.MarketSnapshot{}
	for rows.Next() {
		var sn domain.MarketSnapshot
		if err := rows.Scan(
			&sn.ID, &sn.MarketID, &sn.Title, &sn.Yes, &sn.No,
			&sn.Volume24h, &sn.TotalVolume, &sn.Rank, &sn.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.CapturedAt = sn.CapturedAt.UTC()
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return snaps, nil
}
