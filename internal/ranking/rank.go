package ranking

import (
	"sort"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// SelectTopK returns the k markets with the highest 24-hour volume, strictly
// descending. Equal volumes keep their input order so deterministic input
// yields a deterministic ranking. An id listed more than once is ranked only
// by its highest-volume copy. The input slice is not modified.
func SelectTopK(markets []domain.CanonicalMarket, k int) ([]domain.CanonicalMarket, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}

	sorted := make([]domain.CanonicalMarket, len(markets))
	copy(sorted, markets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Volume24h > sorted[j].Volume24h
	})

	seen := make(map[string]struct{}, len(sorted))
	top := sorted[:0]
	for _, m := range sorted {
		if len(top) == k {
			break
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		top = append(top, m)
	}
	return top, nil
}
