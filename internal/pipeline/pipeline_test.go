package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
	"github.com/alanyoungcy/polytrend/internal/store/memory"
)

var testNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listing(id string, vol float64) polymarket.RawMarketRecord {
	return polymarket.RawMarketRecord{
		ID:            id,
		Question:      "Will " + id + " happen?",
		OutcomePrices: json.RawMessage(`"[\"0.35\",\"0.65\"]"`),
		Volume24hr:    polymarket.Number{Value: vol, Set: true},
		Active:        true,
	}
}

type fakeFetcher struct {
	records []polymarket.RawMarketRecord
	err     error
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeFetcher) FetchActiveListings(ctx context.Context) ([]polymarket.RawMarketRecord, error) {
	f.calls++
	if f.block != nil {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

type recordingBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *recordingBus) StreamRecent(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingCache struct {
	set         []domain.Market
	setCalls    int
	invalidated int
}

func (c *recordingCache) Set(_ context.Context, markets []domain.Market) error {
	c.setCalls++
	c.set = markets
	return nil
}

func (c *recordingCache) Get(context.Context) ([]domain.Market, error) {
	if c.set == nil {
		return nil, domain.ErrNotFound
	}
	return c.set, nil
}

func (c *recordingCache) Invalidate(context.Context) error {
	c.invalidated++
	c.set = nil
	return nil
}

type recordingNotifier struct {
	runs []domain.RunResult
}

func (n *recordingNotifier) NotifyRun(_ context.Context, res domain.RunResult) {
	n.runs = append(n.runs, res)
}

type harness struct {
	fetcher   *fakeFetcher
	markets   *memory.MarketStore
	snapshots *memory.SnapshotStore
	events    *memory.EventStore
	audit     *memory.AuditStore
	locks     *memory.LockManager
	bus       *recordingBus
	cache     *recordingCache
	notifier  *recordingNotifier
	orch      *Orchestrator
}

func newHarness(k int) *harness {
	h := &harness{
		fetcher:   &fakeFetcher{},
		markets:   memory.NewMarketStore(),
		snapshots: memory.NewSnapshotStore(),
		events:    memory.NewEventStore(),
		audit:     memory.NewAuditStore(),
		locks:     memory.NewLockManager(),
		bus:       &recordingBus{},
		cache:     &recordingCache{},
		notifier:  &recordingNotifier{},
	}
	logger := discardLogger()
	sweeper := NewSweeper(RetentionConfig{
		SnapshotHorizon:    30 * 24 * time.Hour,
		StaleMarketHorizon: 24 * time.Hour,
		EventHorizon:       60 * 24 * time.Hour,
	}, h.markets, h.snapshots, h.events, nil, logger)

	h.orch = NewOrchestrator(OrchestratorConfig{K: k}, Deps{
		Fetcher:   h.fetcher,
		Markets:   h.markets,
		Snapshots: h.snapshots,
		Events:    h.events,
		Locks:     h.locks,
		Sweeper:   sweeper,
		Cache:     h.cache,
		Bus:       h.bus,
		Notifier:  h.notifier,
		Audit:     h.audit,
		Logger:    logger,
		Clock:     func() time.Time { return testNow },
	})
	return h
}

// seed installs a current generation directly.
func (h *harness) seed(at time.Time, ms ...domain.CanonicalMarket) {
	for _, m := range ms {
		h.markets.Put(domain.FromCanonical(m, at))
	}
}

func canonical(id string, vol float64) domain.CanonicalMarket {
	return domain.CanonicalMarket{ID: id, Title: "Will " + id + " happen?", Category: domain.DefaultCategory, Yes: 0.35, No: 0.65, Volume24h: vol}
}
