package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/model"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 30 * time.Second

// Subscriber is the event-feed capability the handler needs. Satisfied by
// event.Broadcaster.
type Subscriber interface {
	Subscribe(userID, raffleID string) (<-chan model.VerificationEvent, func())
}

// EventsHandler serves GET /api/events — a server-sent-events stream of
// VerificationEvents for a (user, raffle) pair, from subscription time
// forward. The client disconnecting unsubscribes; nothing is replayed.
type EventsHandler struct {
	broadcaster Subscriber
	logger      *slog.Logger
}

func NewEventsHandler(broadcaster Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{broadcaster: broadcaster, logger: logger}
}

func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	wallet, err := auth.NormalizeAddress(r.URL.Query().Get("user_address"))
	if err != nil {
		writeError(w, err)
		return
	}
	raffleID := strings.TrimSpace(r.URL.Query().Get("raffle_id"))
	if raffleID == "" {
		writeError(w, apperror.ValidationFailed("raffle_id", "raffle_id is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperror.Configuration("streaming responses"))
		return
	}

	// Subscribe before the headers go out: once the client sees the stream
	// open, every later emission for the pair is guaranteed to reach it.
	events, cancel := h.broadcaster.Subscribe(wallet, raffleID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("event stream opened",
		slog.String("user", wallet),
		slog.String("raffle", raffleID),
	)
	defer h.logger.Info("event stream closed",
		slog.String("user", wallet),
		slog.String("raffle", raffleID),
	)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			// SSE comment line; clients ignore it, proxies see traffic.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
			flusher.Flush()
		}
	}
}
