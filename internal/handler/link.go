package handler

import (
	"log/slog"
	"net/http"

	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/service"
)

// LinkHandler serves the OAuth linking endpoints:
//
//	GET /auth/{platform}/login?user_address=…   → 302 to the consent page
//	GET /auth/{platform}/callback?code&state    → completes the link
type LinkHandler struct {
	svc    *service.LinkService
	logger *slog.Logger
}

func NewLinkHandler(svc *service.LinkService, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{svc: svc, logger: logger}
}

type linkCompleteResponse struct {
	Linked           bool           `json:"linked"`
	Platform         model.Platform `json:"platform"`
	PlatformUserID   string         `json:"platform_user_id"`
	PlatformUsername string         `json:"platform_username"`
	UserAddress      string         `json:"user_address"`
}

func (h *LinkHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.svc.Begin(r.Context(),
		r.PathValue("platform"),
		r.URL.Query().Get("user_address"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

func (h *LinkHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Complete(r.Context(),
		r.PathValue("platform"),
		r.URL.Query().Get("code"),
		r.URL.Query().Get("state"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linkCompleteResponse{
		Linked:           true,
		Platform:         acct.Platform,
		PlatformUserID:   acct.PlatformUserID,
		PlatformUsername: acct.PlatformUsername,
		UserAddress:      acct.UserID,
	})
}
