package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// ArchiveHandler lists the JSONL archives written before retention sweeps.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the archive bucket.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

var archiveKinds = map[string]bool{"snapshots": true, "events": true}

// List returns archive objects, optionally narrowed to one kind.
// GET /api/archives?kind=snapshots
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !archiveKinds[kind] {
			writeError(w, http.StatusBadRequest, "kind must be snapshots or events")
			return
		}
		prefix += kind + "/"
	}

	objects, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"archives": objects,
		"count":    len(objects),
	})
}
