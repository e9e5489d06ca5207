package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// RetentionConfig sets how long each kind of history is kept.
type RetentionConfig struct {
	SnapshotHorizon    time.Duration
	StaleMarketHorizon time.Duration
	EventHorizon       time.Duration
}

// Sweeper deletes expired history. When an archiver is configured, expiring
// snapshots and events are uploaded first and kept if the upload fails.
type Sweeper struct {
	cfg       RetentionConfig
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	events    domain.EventStore
	archiver  domain.Archiver
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. archiver may be nil.
func NewSweeper(
	cfg RetentionConfig,
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	events domain.EventStore,
	archiver domain.Archiver,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		markets:   markets,
		snapshots: snapshots,
		events:    events,
		archiver:  archiver,
		logger:    logger,
	}
}

// Sweep runs the three deletions independently: a failure in one does not
// stop the others. All failures are joined into the returned error. Running
// it again with the same now deletes nothing more.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	var res domain.SweepResult
	var errs []error

	snapCutoff := now.Add(-s.cfg.SnapshotHorizon)
	if s.archive(ctx, "snapshots", snapCutoff, s.archiverSnapshots, &res, &errs) {
		n, err := s.snapshots.DeleteBefore(ctx, snapCutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep snapshots: %w", err))
		}
		res.Snapshots = n
	}

	n, err := s.markets.DeleteStale(ctx, now.Add(-s.cfg.StaleMarketHorizon))
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep stale markets: %w", err))
	}
	res.StaleMarkets = n

	eventCutoff := now.Add(-s.cfg.EventHorizon)
	if s.archive(ctx, "events", eventCutoff, s.archiverEvents, &res, &errs) {
		n, err := s.events.DeleteBefore(ctx, eventCutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep events: %w", err))
		}
		res.Events = n
	}

	s.logger.InfoContext(ctx, "retention sweep complete",
		slog.Int64("snapshots", res.Snapshots),
		slog.Int64("stale_markets", res.StaleMarkets),
		slog.Int64("events", res.Events),
		slog.Int64("archived_rows", res.ArchivedRows),
		slog.Int("errors", len(errs)),
	)

	if len(errs) > 0 {
		return res, fmt.Errorf("pipeline: sweep: %w", errors.Join(errs...))
	}
	return res, nil
}

type archiveFunc func(ctx context.Context, before time.Time) (int64, error)

func (s *Sweeper) archiverSnapshots(ctx context.Context, before time.Time) (int64, error) {
	return s.archiver.ArchiveSnapshots(ctx, before)
}

func (s *Sweeper) archiverEvents(ctx context.Context, before time.Time) (int64, error) {
	return s.archiver.ArchiveEvents(ctx, before)
}

// archive reports whether the deletion for kind may proceed.
func (s *Sweeper) archive(
	ctx context.Context,
	kind string,
	before time.Time,
	fn archiveFunc,
	res *domain.SweepResult,
	errs *[]error,
) bool {
	if s.archiver == nil {
		return true
	}
	n, err := fn(ctx, before)
	if err != nil {
		s.logger.WarnContext(ctx, "archive failed, keeping rows",
			slog.String("kind", kind),
			slog.Time("before", before),
			slog.String("error", err.Error()),
		)
		*errs = append(*errs, fmt.Errorf("archive %s: %w", kind, err))
		return false
	}
	res.ArchivedRows += n
	return true
}
