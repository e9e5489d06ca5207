// Package memory provides in-process implementations of the domain stores
// and a process-local run lock. The stores back unit tests; the lock is used
// in production when Redis is disabled.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market

	// FailReplace, when set, makes ReplaceTopK fail without touching state.
	FailReplace error
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

// CurrentTopK returns the flagged markets by 24h volume, highest first.
func (s *MarketStore) CurrentTopK(_ context.Context) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Market{}
	for _, m := range s.markets {
		if m.IsCurrentTopK {
			out = append(out, m)
		}
	}
	sortByVolume(out)
	return out, nil
}

// ReplaceTopK swaps the flagged generation under a single write lock.
func (s *MarketStore) ReplaceTopK(_ context.Context, set []domain.CanonicalMarket, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailReplace != nil {
		return s.FailReplace
	}
	for id, m := range s.markets {
		if m.IsCurrentTopK {
			m.IsCurrentTopK = false
			s.markets[id] = m
		}
	}
	for _, c := range set {
		s.markets[c.ID] = domain.FromCanonical(c, now)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// ListByCategory lists markets in category (all when empty) by volume.
func (s *MarketStore) ListByCategory(_ context.Context, category string, limit int) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Market{}
	for _, m := range s.markets {
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	sortByVolume(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored markets.
func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// DeleteStale removes unflagged markets last updated before the cutoff.
func (s *MarketStore) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.markets {
		if !m.IsCurrentTopK && m.LastUpdated.Before(before) {
			delete(s.markets, id)
			n++
		}
	}
	return n, nil
}

// Put stores m as is. Tests use it to seed state.
func (s *MarketStore) Put(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
}

func sortByVolume(ms []domain.Market) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Volume24h != ms[j].Volume24h {
			return ms[i].Volume24h > ms[j].Volume24h
		}
		return ms[i].ID < ms[j].ID
	})
}

var _ domain.MarketStore = (*MarketStore)(nil)
