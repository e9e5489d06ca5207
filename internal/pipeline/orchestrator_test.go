package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/observability"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
)

func currentIDs(t *testing.T, h *harness) []string {
	t.Helper()
	cur, err := h.markets.CurrentTopK(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(cur))
	for i, m := range cur {
		ids[i] = m.ID
	}
	return ids
}

func TestRunOnce_ReplacesGenerationAndRecordsHistory(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-4*time.Hour), canonical("A", 100), canonical("B", 50))

	bad := listing("D", 999)
	bad.OutcomePrices = json.RawMessage(`"not-json"`)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("C", 300), listing("A", 90), bad, listing("E", 10)}

	res, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunDone, res.State)
	assert.Empty(t, res.FailedIn)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, map[string]int{"bad_outcome_prices": 1}, res.Rejected)

	// history of the outgoing generation
	snaps := h.snapshots.All()
	require.Len(t, snaps, 2)
	assert.Equal(t, "A", snaps[0].MarketID)
	assert.Equal(t, 1, snaps[0].Rank)
	assert.Equal(t, "B", snaps[1].MarketID)
	assert.Equal(t, 2, snaps[1].Rank)
	assert.Equal(t, 2, res.SnapshotsWritten)

	// membership events
	events := h.events.All()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventEntered, events[0].Kind)
	assert.Equal(t, "C", events[0].MarketID)
	assert.Equal(t, 1, *events[0].NewRank)
	assert.Equal(t, domain.EventExited, events[1].Kind)
	assert.Equal(t, "B", events[1].MarketID)
	assert.Equal(t, 2, *events[1].OldRank)
	assert.Equal(t, 2, res.EventsWritten)

	assert.Equal(t, []string{"C", "A"}, currentIDs(t, h))

	// side effects
	require.Len(t, h.cache.set, 2)
	assert.Equal(t, "C", h.cache.set[0].ID)
	require.Len(t, h.bus.published, 1)
	require.Len(t, h.bus.streamed, 1)
	var msg domain.TrendBroadcast
	require.NoError(t, json.Unmarshal(h.bus.published[0], &msg))
	assert.Equal(t, domain.BroadcastTypeTrend, msg.Type)
	assert.Equal(t, res.RunID, msg.RunID)
	assert.Len(t, msg.Events, 2)
	assert.Equal(t, []domain.RankedMarket{
		{Rank: 1, ID: "C", Title: "Will C happen?", Volume24h: 300},
		{Rank: 2, ID: "A", Title: "Will A happen?", Volume24h: 90},
	}, msg.TopK)

	runs, err := h.audit.List(context.Background(), "run.", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.AuditRunCompleted, runs[0].Event)
	assert.Equal(t, res.RunID, runs[0].Detail["runId"])

	require.Len(t, h.notifier.runs, 1)
	assert.Equal(t, res.RunID, h.notifier.runs[0].RunID)
}

func TestRunOnce_FirstRunEntersEverything(t *testing.T) {
	h := newHarness(3)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("X", 1), listing("Y", 3), listing("Z", 2)}

	res, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.snapshots.All())
	require.Len(t, res.Events, 3)
	for i, id := range []string{"Y", "Z", "X"} {
		assert.Equal(t, id, res.Events[i].MarketID)
		assert.Equal(t, domain.EventEntered, res.Events[i].Kind)
	}
	assert.Equal(t, []string{"Y", "Z", "X"}, currentIDs(t, h))
}

func TestRunOnce_FetchFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-time.Hour), canonical("A", 100))
	h.fetcher.err = fmt.Errorf("%w: connection refused", domain.ErrUpstreamUnavailable)

	res, err := h.orch.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, domain.RunFailed, res.State)
	assert.Equal(t, domain.RunFetching, res.FailedIn)
	assert.NotEmpty(t, res.Error)

	assert.Equal(t, []string{"A"}, currentIDs(t, h))
	assert.Empty(t, h.snapshots.All())
	assert.Empty(t, h.events.All())
	assert.Zero(t, h.cache.setCalls)
	assert.Empty(t, h.bus.published)

	runs, err := h.audit.List(context.Background(), "run.", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.AuditRunFailed, runs[0].Event)
	assert.Equal(t, "FETCHING", runs[0].Detail["failedIn"])
}

func TestRunOnce_EmptyRankedSetKeepsGeneration(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-time.Hour), canonical("A", 100))
	closed := listing("Q", 10)
	closed.Closed = true
	h.fetcher.records = []polymarket.RawMarketRecord{closed}

	res, err := h.orch.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, domain.RunRanking, res.FailedIn)
	assert.Equal(t, []string{"A"}, currentIDs(t, h))
}

func TestRunOnce_InvalidKFails(t *testing.T) {
	h := newHarness(0)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 1)}

	res, err := h.orch.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidK)
	assert.Equal(t, domain.RunRanking, res.FailedIn)
}

func TestRunOnce_UpdateFailureKeepsPreviousGeneration(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-time.Hour), canonical("A", 100), canonical("B", 50))
	h.markets.FailReplace = fmt.Errorf("%w: deadlock detected", domain.ErrPersistence)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("C", 300)}

	res, err := h.orch.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.RunUpdating, res.FailedIn)

	assert.Equal(t, []string{"A", "B"}, currentIDs(t, h))
	assert.Len(t, h.snapshots.All(), 2, "history is written before the update")
	assert.Empty(t, h.events.All(), "events are only kept for committed generations")
	assert.Zero(t, h.cache.setCalls)
}

func TestRunOnce_RowFailuresAreSkipped(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-time.Hour), canonical("A", 100), canonical("B", 50))
	h.snapshots.FailFor = map[string]error{"A": errors.New("disk full")}
	h.events.FailFor = map[string]error{"B": errors.New("disk full")}
	h.fetcher.records = []polymarket.RawMarketRecord{listing("C", 300), listing("A", 90)}

	res, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, res.State)
	assert.Equal(t, 1, res.SnapshotsWritten)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 1, res.EventsWritten)
	assert.Equal(t, []string{"C", "A"}, currentIDs(t, h))
}

// cancelAfterReplace cancels the run context once the new generation is
// committed, the way a disconnecting HTTP caller would.
type cancelAfterReplace struct {
	domain.MarketStore
	cancel context.CancelFunc
}

func (m cancelAfterReplace) ReplaceTopK(ctx context.Context, top []domain.CanonicalMarket, at time.Time) error {
	err := m.MarketStore.ReplaceTopK(ctx, top, at)
	m.cancel()
	return err
}

// ctxEventStore fails inserts on a done context like a real driver does.
type ctxEventStore struct {
	domain.EventStore
}

func (s ctxEventStore) Insert(ctx context.Context, ev domain.TrendingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.EventStore.Insert(ctx, ev)
}

func TestRunOnce_EventsSurviveCancellationAfterCommit(t *testing.T) {
	h := newHarness(2)
	h.seed(testNow.Add(-time.Hour), canonical("A", 100), canonical("B", 50))
	h.fetcher.records = []polymarket.RawMarketRecord{listing("C", 300), listing("A", 90)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.deps.Markets = cancelAfterReplace{MarketStore: h.markets, cancel: cancel}
	h.orch.deps.Events = ctxEventStore{EventStore: h.events}

	res, err := h.orch.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, res.State)
	assert.Error(t, ctx.Err())

	require.Len(t, res.Events, 2)
	assert.Equal(t, 2, res.EventsWritten)
	assert.Len(t, h.events.All(), 2)
	assert.Equal(t, []string{"C", "A"}, currentIDs(t, h))
}

func TestRunOnce_DuplicateListingsEnterOnce(t *testing.T) {
	h := newHarness(3)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 100), listing("A", 90), listing("B", 50)}

	res, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, res.State)

	require.Len(t, res.TopK, 2)
	assert.Equal(t, []string{"A", "B"}, currentIDs(t, h))

	events := h.events.All()
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].MarketID)
	assert.Equal(t, 1, *events[0].NewRank)
	assert.Equal(t, "B", events[1].MarketID)
	assert.Equal(t, 2, *events[1].NewRank)
}

func TestRunOnce_LockHeldReturnsRunInProgress(t *testing.T) {
	h := newHarness(2)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 1)}

	unlock, err := h.locks.Acquire(context.Background(), DefaultLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	res, err := h.orch.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Empty(t, res.RunID)
	assert.Zero(t, h.fetcher.calls)
	runs, _ := h.audit.List(context.Background(), "", domain.ListOpts{})
	assert.Empty(t, runs)
}

func TestRunOnce_ConcurrentRunsAreExclusive(t *testing.T) {
	h := newHarness(2)
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 1)}
	h.fetcher.block = make(chan struct{})
	h.fetcher.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.RunOnce(context.Background())
		done <- err
	}()
	<-h.fetcher.entered

	_, err := h.orch.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	close(h.fetcher.block)
	require.NoError(t, <-done)
}

func TestRunOnce_SweepFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(1)
	h.orch.deps.Sweeper = NewSweeper(RetentionConfig{SnapshotHorizon: time.Hour, StaleMarketHorizon: time.Hour, EventHorizon: time.Hour},
		h.markets, h.snapshots, h.events, failingArchiver{}, discardLogger())
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 1)}

	res, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, res.State)
	assert.Contains(t, res.SweepError, "archive")
}

func TestRunOnce_RecordsMetrics(t *testing.T) {
	h := newHarness(2)
	m := observability.NewMetrics()
	h.orch.deps.Metrics = m
	h.fetcher.records = []polymarket.RawMarketRecord{listing("A", 1)}

	_, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "polytrend_pipeline_runs_total" {
			found = true
		}
	}
	assert.True(t, found)
}
