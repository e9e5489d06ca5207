package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// AuditStore is the append-only audit_log table. Run outcomes and archive
// uploads land here; the stats endpoint reads the latest run back.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. An empty detail is stored as SQL NULL.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var payload any
	if len(detail) > 0 {
		payload = detail
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, payload,
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

type auditRow struct {
	ID        int64          `db:"id"`
	Event     string         `db:"event"`
	Detail    map[string]any `db:"detail"`
	CreatedAt time.Time      `db:"created_at"`
}

// List returns entries newest first. A non-empty prefix keeps only events
// that start with it ("run." matches run.completed and run.failed).
func (s *AuditStore) List(ctx context.Context, prefix string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditListQuery(prefix, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[auditRow])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect audit entries: %w", err)
	}

	entries := make([]domain.AuditEntry, len(found))
	for i, r := range found {
		entries[i] = domain.AuditEntry{
			ID:        r.ID,
			Event:     r.Event,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt.UTC(),
		}
	}
	return entries, nil
}

// sqlArgs collects positional arguments, handing out $n placeholders.
type sqlArgs []any

func (a *sqlArgs) bind(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func auditListQuery(prefix string, opts domain.ListOpts) (string, []any) {
	var args sqlArgs
	var where []string
	if prefix != "" {
		where = append(where, "starts_with(event, "+args.bind(prefix)+")")
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+args.bind(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= "+args.bind(*opts.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + args.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + args.bind(opts.Offset))
	}
	return b.String(), args
}
