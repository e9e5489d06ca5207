// Package service exposes the read side of polytrend: the current top-K,
// per-market history, the trending event log and operational summaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const (
	DefaultHistoryHours = 96
	MaxHistoryHours     = 24 * 90

	DefaultEventLimit = 20
	MaxEventLimit     = 500

	DefaultMarketLimit = 50
	MaxMarketLimit     = 500

	DefaultRunLimit = 20
	MaxRunLimit     = 200
)

// TopKService serves read queries. The cache is optional.
type TopKService struct {
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	events    domain.EventStore
	audit     domain.AuditStore
	cache     domain.TopKCache
	logger    *slog.Logger
	now       func() time.Time
}

// NewTopKService creates a TopKService. cache may be nil.
func NewTopKService(
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	events domain.EventStore,
	audit domain.AuditStore,
	cache domain.TopKCache,
	logger *slog.Logger,
) *TopKService {
	return &TopKService{
		markets:   markets,
		snapshots: snapshots,
		events:    events,
		audit:     audit,
		cache:     cache,
		logger:    logger.With(slog.String("component", "topk_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CurrentTopK returns the current generation, highest volume first. It reads
// the cache first and back-fills it from the store on a miss.
func (s *TopKService) CurrentTopK(ctx context.Context) ([]domain.Market, error) {
	if s.cache != nil {
		markets, err := s.cache.Get(ctx)
		if err == nil {
			return markets, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "top-k cache read failed", slog.String("error", err.Error()))
		}
	}

	markets, err := s.markets.CurrentTopK(ctx)
	if err != nil {
		return nil, fmt.Errorf("topk_service: current top-k: %w", err)
	}

	if s.cache != nil && len(markets) > 0 {
		if err := s.cache.Set(ctx, markets); err != nil {
			s.logger.WarnContext(ctx, "top-k cache back-fill failed", slog.String("error", err.Error()))
		}
	}
	return markets, nil
}

// History returns the market and its snapshots from the last windowHours,
// oldest first. windowHours <= 0 selects the default; larger values are
// clamped. It returns domain.ErrNotFound for unknown markets.
func (s *TopKService) History(ctx context.Context, marketID string, windowHours int) (domain.Market, []domain.MarketSnapshot, error) {
	windowHours = ClampHistoryHours(windowHours)

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("topk_service: history %q: %w", marketID, err)
	}

	since := s.now().Add(-time.Duration(windowHours) * time.Hour)
	snaps, err := s.snapshots.History(ctx, marketID, since)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("topk_service: history %q: %w", marketID, err)
	}
	return market, snaps, nil
}

// TrendingEvents returns the most recent membership events, newest first.
func (s *TopKService) TrendingEvents(ctx context.Context, limit int) ([]domain.TrendingEvent, error) {
	events, err := s.events.ListRecent(ctx, clamp(limit, DefaultEventLimit, MaxEventLimit))
	if err != nil {
		return nil, fmt.Errorf("topk_service: trending events: %w", err)
	}
	return events, nil
}

// MarketsByCategory lists stored markets in category by volume. An empty
// category lists all markets.
func (s *TopKService) MarketsByCategory(ctx context.Context, category string, limit int) ([]domain.Market, error) {
	markets, err := s.markets.ListByCategory(ctx, category, clamp(limit, DefaultMarketLimit, MaxMarketLimit))
	if err != nil {
		return nil, fmt.Errorf("topk_service: markets by category: %w", err)
	}
	return markets, nil
}

// RecentRuns returns audit entries for finished runs, newest first.
func (s *TopKService) RecentRuns(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	runs, err := s.audit.List(ctx, "run.", domain.ListOpts{Limit: clamp(limit, DefaultRunLimit, MaxRunLimit)})
	if err != nil {
		return nil, fmt.Errorf("topk_service: recent runs: %w", err)
	}
	return runs, nil
}

// Stats summarises the stored data.
func (s *TopKService) Stats(ctx context.Context) (domain.Stats, error) {
	current, err := s.CurrentTopK(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("topk_service: stats: %w", err)
	}

	st := domain.Stats{CurrentTopK: len(current)}
	for _, m := range current {
		st.TotalVolume24h += m.Volume24h
		if st.LastUpdated == nil || m.LastUpdated.After(*st.LastUpdated) {
			updated := m.LastUpdated
			st.LastUpdated = &updated
		}
	}
	if len(current) > 0 {
		top := current[0]
		st.TopMarket = &domain.TopMarket{ID: top.ID, Title: top.Title, Volume24h: top.Volume24h}
	}

	if st.TotalMarkets, err = s.markets.Count(ctx); err != nil {
		return domain.Stats{}, fmt.Errorf("topk_service: stats: count markets: %w", err)
	}
	if st.TotalSnapshots, err = s.snapshots.Count(ctx); err != nil {
		return domain.Stats{}, fmt.Errorf("topk_service: stats: count snapshots: %w", err)
	}
	if st.EventsLast24h, err = s.events.CountSince(ctx, s.now().Add(-24*time.Hour)); err != nil {
		return domain.Stats{}, fmt.Errorf("topk_service: stats: count events: %w", err)
	}

	oldest, err := s.snapshots.Oldest(ctx)
	switch {
	case err == nil:
		st.OldestSnapshot = &oldest
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Stats{}, fmt.Errorf("topk_service: stats: oldest snapshot: %w", err)
	}
	return st, nil
}

// ClampHistoryHours applies the default and bounds of the history window.
func ClampHistoryHours(hours int) int {
	return clamp(hours, DefaultHistoryHours, MaxHistoryHours)
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	if v > hi {
		return hi
	}
	return v
}
