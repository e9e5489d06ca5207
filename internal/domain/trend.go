package domain

import "time"

// EventKind names the direction of a top-K membership change.
type EventKind string

const (
	EventEntered EventKind = "ENTERED"
	EventExited  EventKind = "EXITED"
)

// TrendingEvent records a market crossing the top-K boundary between two
// consecutive generations. NewRank is set for ENTERED, OldRank for EXITED.
type TrendingEvent struct {
	ID        int64     `json:"id"`
	MarketID  string    `json:"marketId"`
	Title     string    `json:"title"`
	Kind      EventKind `json:"kind"`
	NewRank   *int      `json:"newRank,omitempty"`
	OldRank   *int      `json:"oldRank,omitempty"`
	Volume24h float64   `json:"volume24h"`
	CreatedAt time.Time `json:"createdAt"`
}

// TrendBroadcast is the envelope published on the signal bus after each
// successful run and relayed to websocket clients.
type TrendBroadcast struct {
	Type      string          `json:"type"`
	RunID     string          `json:"runId"`
	Timestamp time.Time       `json:"timestamp"`
	Events    []TrendingEvent `json:"events"`
	TopK      []RankedMarket  `json:"topK"`
}

// RankedMarket is the compact form of a top-K member used in broadcasts and
// trigger responses.
type RankedMarket struct {
	Rank      int     `json:"rank"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Volume24h float64 `json:"volume24h"`
}

// BroadcastTypeTrend tags TrendBroadcast envelopes.
const BroadcastTypeTrend = "trend"

// Ranked numbers markets from 1 in slice order.
func Ranked(markets []CanonicalMarket) []RankedMarket {
	out := make([]RankedMarket, len(markets))
	for i, m := range markets {
		out[i] = RankedMarket{Rank: i + 1, ID: m.ID, Title: m.Title, Volume24h: m.Volume24h}
	}
	return out
}
