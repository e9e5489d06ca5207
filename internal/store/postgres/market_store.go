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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, category, description, yes_price, no_price,
	volume_24h, total_volume, is_current_top_k, last_updated, end_date, image`

const upsertMarketSQL = `
	INSERT INTO markets (
		id, title, category, description, yes_price, no_price,
		volume_24h, total_volume, is_current_top_k, last_updated, end_date, image
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, TRUE, $9, $10, $11
	)
	ON CONFLICT (id) DO UPDATE SET
		title            = EXCLUDED.title,
		category         = EXCLUDED.category,
		description      = EXCLUDED.description,
		yes_price        = EXCLUDED.yes_price,
		no_price         = EXCLUDED.no_price,
		volume_24h       = EXCLUDED.volume_24h,
		total_volume     = EXCLUDED.total_volume,
		is_current_top_k = TRUE,
		last_updated     = EXCLUDED.last_updated,
		end_date         = EXCLUDED.end_date,
		image            = EXCLUDED.image`

// CurrentTopK returns the flagged generation, highest 24h volume first.
func (s *MarketStore) CurrentTopK(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE is_current_top_k
		 ORDER BY volume_24h DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: current top-k: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: current top-k: %w", err)
	}
	return markets, nil
}

// ReplaceTopK clears every current flag and upserts set as the new
// generation inside one transaction. On any failure the transaction is rolled
// back and the previous generation stays in place.
func (s *MarketStore) ReplaceTopK(ctx context.Context, set []domain.CanonicalMarket, now time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE markets SET is_current_top_k = FALSE WHERE is_current_top_k`); err != nil {
			return fmt.Errorf("clear flags: %w", err)
		}
		if len(set) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, m := range set {
			batch.Queue(upsertMarketSQL,
				m.ID, m.Title, m.Category, m.Description, m.Yes, m.No,
				m.Volume24h, m.TotalVolume, now, m.EndDate, m.Image,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range set {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert %s (item %d): %w", set[i].ID, i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("postgres: replace top-k: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListByCategory returns markets in category by 24h volume, highest first.
// An empty category lists every market.
func (s *MarketStore) ListByCategory(ctx context.Context, category string, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	argIdx := 1

	if category != "" {
		query += fmt.Sprintf(" WHERE category = $%d", argIdx)
		args = append(args, category)
		argIdx++
	}

	query += " ORDER BY volume_24h DESC, id ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by category: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by category: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// DeleteStale removes unflagged markets not updated since before.
func (s *MarketStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM markets WHERE NOT is_current_top_k AND last_updated < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale markets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.Title, &m.Category, &m.Description, &m.Yes, &m.No,
		&m.Volume24h, &m.TotalVolume, &m.IsCurrentTopK, &m.LastUpdated, &m.EndDate, &m.Image,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.LastUpdated = m.LastUpdated.UTC()
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return markets, nil
}
