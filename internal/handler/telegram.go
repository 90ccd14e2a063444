package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/service"
)

// TelegramHandler serves POST /api/telegram — the two-step code flow,
// dispatched on the "action" field.
type TelegramHandler struct {
	svc    *service.CodeService
	logger *slog.Logger
}

func NewTelegramHandler(svc *service.CodeService, logger *slog.Logger) *TelegramHandler {
	return &TelegramHandler{svc: svc, logger: logger}
}

type telegramRequest struct {
	UserAddress      string `json:"user_address"`
	Action           string `json:"action"`
	TelegramUsername string `json:"telegram_username,omitempty"`
	VerificationCode string `json:"verification_code,omitempty"`
}

type initiateResponse struct {
	AuthURL          string    `json:"auth_url"`
	VerificationCode string    `json:"verification_code"`
	BotUsername      string    `json:"bot_username"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type telegramVerifyResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (h *TelegramHandler) HandleTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	switch req.Action {
	case "initiate":
		res, err := h.svc.Initiate(r.Context(), req.UserAddress, req.TelegramUsername)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, initiateResponse{
			AuthURL:          res.AuthURL,
			VerificationCode: res.Code,
			BotUsername:      res.BotUsername,
			ExpiresAt:        res.ExpiresAt,
		})

	case "verify":
		identity, err := h.svc.Verify(r.Context(), req.UserAddress, req.VerificationCode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, telegramVerifyResponse{
			UserID:   identity.UserID,
			Username: identity.Username,
		})

	default:
		writeError(w, apperror.ValidationFailed("action",
			`action must be "initiate" or "verify"`))
	}
}
