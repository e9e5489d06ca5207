package domain

import "time"

// Stats is an operational summary of the stored data.
type Stats struct {
	CurrentTopK    int        `json:"currentTopK"`
	TotalMarkets   int64      `json:"totalMarkets"`
	TotalSnapshots int64      `json:"totalSnapshots"`
	EventsLast24h  int64      `json:"eventsLast24h"`
	OldestSnapshot *time.Time `json:"oldestSnapshot"`
	TotalVolume24h float64    `json:"totalVolume24h"`
	TopMarket      *TopMarket `json:"topMarket"`
	LastUpdated    *time.Time `json:"lastUpdated"`
}

// TopMarket identifies the highest-volume member of the current set.
type TopMarket struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Volume24h float64 `json:"volume24h"`
}
