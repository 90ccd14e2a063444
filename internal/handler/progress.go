package handler

import (
	"log/slog"
	"net/http"

	"github.com/dropforge/socialverify/internal/service"
)

// ProgressHandler serves GET /api/progress — the recomputed snapshot for a
// (user, raffle) pair.
type ProgressHandler struct {
	svc    *service.ProgressService
	logger *slog.Logger
}

func NewProgressHandler(svc *service.ProgressService, logger *slog.Logger) *ProgressHandler {
	return &ProgressHandler{svc: svc, logger: logger}
}

func (h *ProgressHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context(),
		r.URL.Query().Get("user_address"),
		r.URL.Query().Get("raffle_id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
