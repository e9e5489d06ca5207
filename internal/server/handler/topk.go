package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// TopKService defines the read queries the handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type TopKService interface {
	CurrentTopK(ctx context.Context) ([]domain.Market, error)
	History(ctx context.Context, marketID string, windowHours int) (domain.Market, []domain.MarketSnapshot, error)
	TrendingEvents(ctx context.Context, limit int) ([]domain.TrendingEvent, error)
	Stats(ctx context.Context) (domain.Stats, error)
	MarketsByCategory(ctx context.Context, category string, limit int) ([]domain.Market, error)
	RecentRuns(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// TopKHandler serves the read API.
type TopKHandler struct {
	svc          TopKService
	historyHours func(int) int
	logger       *slog.Logger
}

// NewTopKHandler creates a TopKHandler. clampHours normalises the history
// window reported back to clients and must match the service's clamping.
func NewTopKHandler(svc TopKService, clampHours func(int) int, logger *slog.Logger) *TopKHandler {
	return &TopKHandler{svc: svc, historyHours: clampHours, logger: logHandler(logger, "topk")}
}

type topResponse struct {
	Markets        []domain.Market `json:"markets"`
	LastUpdated    *time.Time      `json:"lastUpdated"`
	Count          int             `json:"count"`
	TotalVolume24h float64         `json:"totalVolume24h"`
	SortedBy       string          `json:"sortedBy"`
}

// Top returns the current top-K generation.
// GET /api/top
func (h *TopKHandler) Top(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.CurrentTopK(r.Context())
	if err != nil {
		h.internal(w, r, "current top-k", err)
		return
	}

	resp := topResponse{Markets: markets, Count: len(markets), SortedBy: "volume24h"}
	for _, m := range markets {
		resp.TotalVolume24h += m.Volume24h
		if resp.LastUpdated == nil || m.LastUpdated.After(*resp.LastUpdated) {
			t := m.LastUpdated
			resp.LastUpdated = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	Market         domain.Market           `json:"market"`
	History        []domain.MarketSnapshot `json:"history"`
	DataPoints     int                     `json:"dataPoints"`
	TimeRangeHours int                     `json:"timeRangeHours"`
}

// History returns a market and its recent snapshots.
// GET /api/markets/{id}/history?hours=96
func (h *TopKHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	hours := queryInt(r, "hours")

	market, history, err := h.svc.History(r.Context(), id, hours)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.internal(w, r, "market history", err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Market:         market,
		History:        history,
		DataPoints:     len(history),
		TimeRangeHours: h.historyHours(hours),
	})
}

// Events returns the most recent membership changes.
// GET /api/trending-events?limit=20
func (h *TopKHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.TrendingEvents(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.internal(w, r, "trending events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// Stats returns the operational summary.
// GET /api/stats
func (h *TopKHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.internal(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Markets lists stored markets, optionally restricted to one category.
// GET /api/markets?category=Politics&limit=50
func (h *TopKHandler) Markets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.MarketsByCategory(r.Context(), r.URL.Query().Get("category"), queryInt(r, "limit"))
	if err != nil {
		h.internal(w, r, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets, "count": len(markets)})
}

// Runs lists recent pipeline runs from the audit log.
// GET /api/runs?limit=20
func (h *TopKHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.RecentRuns(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.internal(w, r, "recent runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *TopKHandler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to load "+op)
}
