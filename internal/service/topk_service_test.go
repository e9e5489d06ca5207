package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/store/memory"
)

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type stubCache struct {
	markets []domain.Market
	getErr  error
	sets    int
}

func (c *stubCache) Set(_ context.Context, m []domain.Market) error {
	c.sets++
	c.markets = m
	return nil
}

func (c *stubCache) Get(context.Context) ([]domain.Market, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.markets == nil {
		return nil, domain.ErrNotFound
	}
	return c.markets, nil
}

func (c *stubCache) Invalidate(context.Context) error {
	c.markets = nil
	return nil
}

type fixture struct {
	markets   *memory.MarketStore
	snapshots *memory.SnapshotStore
	events    *memory.EventStore
	audit     *memory.AuditStore
	cache     *stubCache
	svc       *TopKService
}

func newFixture(withCache bool) *fixture {
	f := &fixture{
		markets:   memory.NewMarketStore(),
		snapshots: memory.NewSnapshotStore(),
		events:    memory.NewEventStore(),
		audit:     memory.NewAuditStore(),
		cache:     &stubCache{},
	}
	var cache domain.TopKCache
	if withCache {
		cache = f.cache
	}
	f.svc = NewTopKService(f.markets, f.snapshots, f.events, f.audit, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) seedCurrent(t *testing.T) {
	t.Helper()
	err := f.markets.ReplaceTopK(context.Background(), []domain.CanonicalMarket{
		{ID: "a", Title: "A", Category: "Politics", Volume24h: 500},
		{ID: "b", Title: "B", Category: "Sports", Volume24h: 250},
	}, now.Add(-time.Hour))
	require.NoError(t, err)
}

func TestCurrentTopK_BackfillsCache(t *testing.T) {
	f := newFixture(true)
	f.seedCurrent(t)

	got, err := f.svc.CurrentTopK(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 1, f.cache.sets)

	// second read is served from the cache
	f.cache.markets = []domain.Market{{ID: "cached"}}
	got, err = f.svc.CurrentTopK(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", got[0].ID)
	assert.Equal(t, 1, f.cache.sets)
}

func TestCurrentTopK_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture(true)
	f.seedCurrent(t)
	f.cache.getErr = errors.New("connection reset")

	got, err := f.svc.CurrentTopK(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCurrentTopK_NoCache(t *testing.T) {
	f := newFixture(false)
	got, err := f.svc.CurrentTopK(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistory(t *testing.T) {
	f := newFixture(false)
	f.seedCurrent(t)
	ctx := context.Background()
	for _, age := range []time.Duration{100 * time.Hour, 50 * time.Hour, 2 * time.Hour} {
		require.NoError(t, f.snapshots.Insert(ctx, domain.MarketSnapshot{MarketID: "a", Rank: 1, CapturedAt: now.Add(-age)}))
	}
	require.NoError(t, f.snapshots.Insert(ctx, domain.MarketSnapshot{MarketID: "b", Rank: 2, CapturedAt: now.Add(-time.Hour)}))

	market, snaps, err := f.svc.History(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, "A", market.Title)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].CapturedAt.Before(snaps[1].CapturedAt))

	_, snaps, err = f.svc.History(ctx, "a", 3)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	_, _, err = f.svc.History(ctx, "missing", 24)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClampHistoryHours(t *testing.T) {
	assert.Equal(t, DefaultHistoryHours, ClampHistoryHours(0))
	assert.Equal(t, DefaultHistoryHours, ClampHistoryHours(-5))
	assert.Equal(t, 1, ClampHistoryHours(1))
	assert.Equal(t, MaxHistoryHours, ClampHistoryHours(100000))
}

func TestTrendingEvents_Limits(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, f.events.Insert(ctx, domain.TrendingEvent{
			MarketID:  "m",
			Kind:      domain.EventEntered,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := f.svc.TrendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, DefaultEventLimit)
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))

	events, err = f.svc.TrendingEvents(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	events, err = f.svc.TrendingEvents(ctx, 10000)
	require.NoError(t, err)
	assert.Len(t, events, 30)
}

func TestMarketsByCategory(t *testing.T) {
	f := newFixture(false)
	f.seedCurrent(t)

	got, err := f.svc.MarketsByCategory(context.Background(), "Politics", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	all, err := f.svc.MarketsByCategory(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecentRuns(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	require.NoError(t, f.audit.Log(ctx, domain.AuditRunCompleted, map[string]any{"runId": "1"}))
	require.NoError(t, f.audit.Log(ctx, domain.AuditArchived, map[string]any{"kind": "snapshots"}))
	require.NoError(t, f.audit.Log(ctx, domain.AuditRunFailed, map[string]any{"runId": "2"}))

	runs, err := f.svc.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2", runs[0].Detail["runId"])
	assert.Equal(t, "1", runs[1].Detail["runId"])
}

func TestStats(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	empty, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.CurrentTopK)
	assert.Nil(t, empty.OldestSnapshot)
	assert.Nil(t, empty.TopMarket)

	f.seedCurrent(t)
	oldest := now.Add(-48 * time.Hour)
	require.NoError(t, f.snapshots.Insert(ctx, domain.MarketSnapshot{MarketID: "a", Rank: 1, CapturedAt: oldest}))
	require.NoError(t, f.events.Insert(ctx, domain.TrendingEvent{MarketID: "a", Kind: domain.EventEntered, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, f.events.Insert(ctx, domain.TrendingEvent{MarketID: "z", Kind: domain.EventExited, CreatedAt: now.Add(-30 * time.Hour)}))

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentTopK)
	assert.Equal(t, int64(2), st.TotalMarkets)
	assert.Equal(t, int64(1), st.TotalSnapshots)
	assert.Equal(t, int64(1), st.EventsLast24h)
	require.NotNil(t, st.OldestSnapshot)
	assert.True(t, oldest.Equal(*st.OldestSnapshot))
	assert.InDelta(t, 750, st.TotalVolume24h, 1e-9)
	require.NotNil(t, st.TopMarket)
	assert.Equal(t, "a", st.TopMarket.ID)
	require.NotNil(t, st.LastUpdated)
	assert.True(t, now.Add(-time.Hour).Equal(*st.LastUpdated))
}
