package domain

import "time"

// DefaultCategory is assigned to markets the upstream feed leaves uncategorised.
const DefaultCategory = "General"

// CanonicalMarket is a validated market listing produced by the normalizer.
// It lives for a single run and is never mutated after construction.
type CanonicalMarket struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Description string     `json:"description,omitempty"`
	Yes         float64    `json:"yes"`
	No          float64    `json:"no"`
	Volume24h   float64    `json:"volume24h"`
	TotalVolume float64    `json:"totalVolume"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Image       string     `json:"image,omitempty"`
}

// Market is the persisted current-state row for a market. At most K rows carry
// IsCurrentTopK at any time, and they always belong to the same generation.
type Market struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	Description   string     `json:"description,omitempty"`
	Yes           float64    `json:"yes"`
	No            float64    `json:"no"`
	Volume24h     float64    `json:"volume24h"`
	TotalVolume   float64    `json:"totalVolume"`
	IsCurrentTopK bool       `json:"isCurrentTopK"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	Image         string     `json:"image,omitempty"`
}

// FromCanonical builds the persisted form of c as a member of the generation
// written at now.
func FromCanonical(c CanonicalMarket, now time.Time) Market {
	return Market{
		ID:            c.ID,
		Title:         c.Title,
		Category:      c.Category,
		Description:   c.Description,
		Yes:           c.Yes,
		No:            c.No,
		Volume24h:     c.Volume24h,
		TotalVolume:   c.TotalVolume,
		IsCurrentTopK: true,
		LastUpdated:   now,
		EndDate:       c.EndDate,
		Image:         c.Image,
	}
}

// MarketSnapshot is an append-only record of a market's position in a top-K
// generation, captured just before that generation was replaced.
type MarketSnapshot struct {
	ID          int64     `json:"id"`
	MarketID    string    `json:"marketId"`
	Title       string    `json:"title"`
	Yes         float64   `json:"yes"`
	No          float64   `json:"no"`
	Volume24h   float64   `json:"volume24h"`
	TotalVolume float64   `json:"totalVolume"`
	Rank        int       `json:"rank"`
	CapturedAt  time.Time `json:"capturedAt"`
}

// SnapshotOf captures m at the given 1-based rank.
func SnapshotOf(m Market, rank int, capturedAt time.Time) MarketSnapshot {
	return MarketSnapshot{
		MarketID:    m.ID,
		Title:       m.Title,
		Yes:         m.Yes,
		No:          m.No,
		Volume24h:   m.Volume24h,
		TotalVolume: m.TotalVolume,
		Rank:        rank,
		CapturedAt:  capturedAt,
	}
}
