package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

func TestMarketStore_ReplaceTopK(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceTopK(ctx, []domain.CanonicalMarket{{ID: "A", Volume24h: 1}, {ID: "B", Volume24h: 2}}, t0))
	require.NoError(t, s.ReplaceTopK(ctx, []domain.CanonicalMarket{{ID: "C", Volume24h: 3}}, t0.Add(time.Hour)))

	cur, err := s.CurrentTopK(ctx)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, "C", cur[0].ID)

	n, err := s.DeleteStale(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLockManager_ExclusiveAndExpiry(t *testing.T) {
	lm := NewLockManager()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lm.now = func() time.Time { return clock }
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "run", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	clock = clock.Add(2 * time.Minute)
	takeover, err := lm.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)

	// the expired holder's unlock must not release the new holder
	unlock()
	_, err = lm.Acquire(ctx, "run", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	takeover()
	again, err := lm.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	again()
}

func TestAuditStore_ListPrefixNewestFirst(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, s.Log(ctx, domain.AuditRunCompleted, map[string]any{"n": 1}))
	require.NoError(t, s.Log(ctx, domain.AuditArchived, nil))
	require.NoError(t, s.Log(ctx, domain.AuditRunFailed, map[string]any{"n": 2}))

	runs, err := s.List(ctx, "run.", domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, domain.AuditRunFailed, runs[0].Event)
	assert.Equal(t, domain.AuditRunCompleted, runs[1].Event)
}

func TestSignalBus_PublishAndReplay(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	exact, err := bus.Subscribe(ctx, "ch:trend")
	require.NoError(t, err)
	pattern, err := bus.Subscribe(ctx, "ch:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:trend", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))
	assert.Equal(t, []byte("hello"), <-exact)
	assert.Equal(t, []byte("hello"), <-pattern)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte{byte('a' + i)}))
	}
	recent, err := bus.StreamRecent(ctx, "s", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []byte("d"), recent[0].Payload)
	assert.Equal(t, []byte("e"), recent[1].Payload)

	cancel()
	_, open := <-exact
	for open {
		_, open = <-exact
	}
}
