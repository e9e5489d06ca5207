package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// Snapshotter records the outgoing top-K generation as history before it is
// replaced.
type Snapshotter struct {
	store  domain.SnapshotStore
	logger *slog.Logger
}

// NewSnapshotter creates a Snapshotter writing to store.
func NewSnapshotter(store domain.SnapshotStore, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{store: store, logger: logger}
}

// Snapshot writes one row per member of prev, ranked by position. A failing
// row is logged and skipped; the only error returned is context cancellation.
func (s *Snapshotter) Snapshot(ctx context.Context, prev []domain.Market, now time.Time) (int, error) {
	written := 0
	for i, m := range prev {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("pipeline: snapshot: %w", err)
		}
		snap := domain.SnapshotOf(m, i+1, now)
		if err := s.store.Insert(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "snapshot write failed",
				slog.String("market_id", m.ID),
				slog.Int("rank", snap.Rank),
				slog.String("error", err.Error()),
			)
			continue
		}
		written++
	}
	return written, nil
}
