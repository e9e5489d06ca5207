package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// SnapshotStore is an in-memory domain.SnapshotStore.
type SnapshotStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []domain.MarketSnapshot

	// FailFor makes Insert fail for the listed market ids.
	FailFor map[string]error
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

func (s *SnapshotStore) Insert(_ context.Context, snap domain.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailFor[snap.MarketID]; err != nil {
		return err
	}
	s.nextID++
	snap.ID = s.nextID
	s.rows = append(s.rows, snap)
	return nil
}

func (s *SnapshotStore) History(_ context.Context, marketID string, since time.Time) ([]domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.MarketSnapshot{}
	for _, sn := range s.rows {
		if sn.MarketID == marketID && !sn.CapturedAt.Before(since) {
			out = append(out, sn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (s *SnapshotStore) ListBefore(_ context.Context, before time.Time) ([]domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.MarketSnapshot{}
	for _, sn := range s.rows {
		if sn.CapturedAt.Before(before) {
			out = append(out, sn)
		}
	}
	return out, nil
}

func (s *SnapshotStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var n int64
	for _, sn := range s.rows {
		if sn.CapturedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, sn)
	}
	s.rows = kept
	return n, nil
}

func (s *SnapshotStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

func (s *SnapshotStore) Oldest(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.rows) == 0 {
		return time.Time{}, domain.ErrNotFound
	}
	oldest := s.rows[0].CapturedAt
	for _, sn := range s.rows[1:] {
		if sn.CapturedAt.Before(oldest) {
			oldest = sn.CapturedAt
		}
	}
	return oldest, nil
}

// All returns a copy of every stored snapshot in insertion order.
func (s *SnapshotStore) All() []domain.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MarketSnapshot(nil), s.rows...)
}

// EventStore is an in-memory domain.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []domain.TrendingEvent

	FailFor map[string]error
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Insert(_ context.Context, ev domain.TrendingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailFor[ev.MarketID]; err != nil {
		return err
	}
	s.nextID++
	ev.ID = s.nextID
	s.rows = append(s.rows, ev)
	return nil
}

// ListRecent returns newest first; insertion order breaks ties.
func (s *EventStore) ListRecent(_ context.Context, limit int) ([]domain.TrendingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.TrendingEvent{}, s.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) CountSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ev := range s.rows {
		if !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *EventStore) ListBefore(_ context.Context, before time.Time) ([]domain.TrendingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.TrendingEvent{}
	for _, ev := range s.rows {
		if ev.CreatedAt.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *EventStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var n int64
	for _, ev := range s.rows {
		if ev.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.rows = kept
	return n, nil
}

// All returns a copy of every stored event in insertion order.
func (s *EventStore) All() []domain.TrendingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TrendingEvent(nil), s.rows...)
}

var (
	_ domain.SnapshotStore = (*SnapshotStore)(nil)
	_ domain.EventStore    = (*EventStore)(nil)
)
