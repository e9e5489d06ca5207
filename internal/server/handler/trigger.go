package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// Runner executes one pipeline run synchronously.
type Runner interface {
	RunNow(ctx context.Context) (domain.RunResult, error)
}

// TriggerHandler serves the authenticated "run now" endpoint.
type TriggerHandler struct {
	runner Runner
	logger *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler.
func NewTriggerHandler(runner Runner, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, logger: logHandler(logger, "trigger")}
}

type triggerResponse struct {
	Success        bool                  `json:"success"`
	RunID          string                `json:"runId,omitempty"`
	MarketsUpdated int                   `json:"marketsUpdated"`
	Timestamp      string                `json:"timestamp"`
	Markets        []domain.RankedMarket `json:"markets,omitempty"`
	FailedIn       string                `json:"failedIn,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// Trigger runs the pipeline once and reports the outcome. A second trigger
// while a run is in flight gets 409 and does not start another run. The run
// keeps going if the caller disconnects; the runner applies its own timeout.
// POST /api/cron/run
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: run trigger requested")

	res, err := h.runner.RunNow(context.WithoutCancel(r.Context()))
	now := time.Now().UTC().Format(time.RFC3339)

	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, triggerResponse{Timestamp: now, Error: "a run is already in progress"})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: triggered run failed",
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, triggerResponse{
			RunID:     res.RunID,
			Timestamp: now,
			FailedIn:  string(res.FailedIn),
			Error:     err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, triggerResponse{
			Success:        true,
			RunID:          res.RunID,
			MarketsUpdated: len(res.TopK),
			Timestamp:      now,
			Markets:        domain.Ranked(res.TopK),
		})
	}
}
