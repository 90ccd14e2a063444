package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/service"
)

// VerifyHandler serves POST /api/verify — one task check per request.
type VerifyHandler struct {
	svc    *service.VerificationService
	logger *slog.Logger
}

func NewVerifyHandler(svc *service.VerificationService, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{svc: svc, logger: logger}
}

type verifyRequest struct {
	UserAddress string           `json:"user_address"`
	RaffleID    string           `json:"raffle_id"`
	TaskType    string           `json:"task_type"`
	TaskData    service.TaskData `json:"task_data"`
	ChainID     int64            `json:"chain_id"`
}

type verifyResponse struct {
	Success             bool            `json:"success"`
	Platform            model.Platform  `json:"platform"`
	TaskType            model.TaskType  `json:"task_type"`
	VerificationDetails json.RawMessage `json:"verification_details"`
	Timestamp           time.Time       `json:"timestamp"`
}

// HandleVerify runs the check and returns the durable outcome. A negative
// check is a 200 with success=false — the request worked, the task didn't.
func (h *VerifyHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	res, err := h.svc.Verify(r.Context(), service.VerifyRequest{
		UserAddress: req.UserAddress,
		RaffleID:    req.RaffleID,
		TaskType:    req.TaskType,
		TaskData:    req.TaskData,
		ChainID:     req.ChainID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success:             res.Success,
		Platform:            res.Platform,
		TaskType:            res.TaskType,
		VerificationDetails: json.RawMessage(res.VerificationDetails),
		Timestamp:           res.Timestamp,
	})
}
