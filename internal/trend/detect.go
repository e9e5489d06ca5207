// Package trend compares two consecutive top-K generations and reports which
// markets entered and which dropped out.
package trend

import (
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// Detect diffs the previous generation against the new ranked set by market
// id. Markets present in both produce nothing; rank movement inside the set
// is not an event.
//
// ENTERED events come first, ordered by their rank in next, followed by
// EXITED events ordered by their rank in prev. An EXITED event carries the
// last volume stored for that market.
func Detect(prev []domain.Market, next []domain.CanonicalMarket, now time.Time) []domain.TrendingEvent {
	prevIDs := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		prevIDs[m.ID] = struct{}{}
	}
	nextIDs := make(map[string]struct{}, len(next))
	for _, m := range next {
		nextIDs[m.ID] = struct{}{}
	}

	var events []domain.TrendingEvent
	for i, m := range next {
		if _, ok := prevIDs[m.ID]; ok {
			continue
		}
		rank := i + 1
		events = append(events, domain.TrendingEvent{
			MarketID:  m.ID,
			Title:     m.Title,
			Kind:      domain.EventEntered,
			NewRank:   &rank,
			Volume24h: m.Volume24h,
			CreatedAt: now,
		})
	}
	for i, m := range prev {
		if _, ok := nextIDs[m.ID]; ok {
			continue
		}
		rank := i + 1
		events = append(events, domain.TrendingEvent{
			MarketID:  m.ID,
			Title:     m.Title,
			Kind:      domain.EventExited,
			OldRank:   &rank,
			Volume24h: m.Volume24h,
			CreatedAt: now,
		})
	}
	return events
}
