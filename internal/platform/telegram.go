package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
)

const telegramAPIBase = "https://api.telegram.org"

// Membership statuses the Bot API can return from getChatMember. Anything
// outside memberStatuses — including "left", "kicked" and values added by
// future API versions — counts as not a member.
var memberStatuses = map[string]bool{
	"creator":       true,
	"administrator": true,
	"member":        true,
	"restricted":    true,
}

// TelegramConfig carries the bot credential and endpoint override.
type TelegramConfig struct {
	BotToken    string
	BotUsername string
	APIBaseURL  string
}

// Telegram is the Bot API adapter. It has no authorization-code exchange —
// identity comes through the verification-code flow — so it implements only
// TaskVerifier plus the two bot operations the code issuer needs.
//
// CheckMembership deliberately conflates "not a member" with "the check
// failed": the caller only needs a boolean task outcome, and a flaky bot API
// should read as unverified, not as a 5xx. The distinction is preserved in
// the logs.
type Telegram struct {
	token       string
	botUsername string
	apiBase     string
	client      *http.Client
	logger      *slog.Logger
}

var _ TaskVerifier = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig, logger *slog.Logger) *Telegram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = telegramAPIBase
	}
	return &Telegram{
		token:       cfg.BotToken,
		botUsername: cfg.BotUsername,
		apiBase:     strings.TrimRight(cfg.APIBaseURL, "/"),
		client:      &http.Client{Timeout: upstreamTimeout},
		logger:      logger,
	}
}

func (tg *Telegram) Platform() model.Platform { return model.PlatformTelegram }

// BotUsername is the handle clients deep-link to (t.me/<bot>?start=<code>).
func (tg *Telegram) BotUsername() string { return tg.botUsername }

// Configured reports whether the bot credential is present.
func (tg *Telegram) Configured() bool { return tg.token != "" }

// VerifyTask answers join_group via CheckMembership.
func (tg *Telegram) VerifyTask(ctx context.Context, task model.TaskType, target string, acct *model.SocialAccount) (bool, error) {
	if !tg.Configured() {
		return false, apperror.Configuration("telegram bot token")
	}
	if task != model.TaskJoinGroup {
		return false, apperror.ValidationFailed("task_type",
			fmt.Sprintf("task %q is not a telegram task", task))
	}
	return tg.CheckMembership(ctx, target, acct.PlatformUserID), nil
}

// CheckMembership asks getChatMember whether platformUserID belongs to the
// chat. chatID is either "@name" or a numeric id. Every failure mode — a
// synthetic (non-numeric) user id, a non-2xx response, a malformed body —
// maps to false with a logged detail.
func (tg *Telegram) CheckMembership(ctx context.Context, chatID, platformUserID string) bool {
	userID, err := strconv.ParseInt(platformUserID, 10, 64)
	if err != nil {
		tg.logger.Info("telegram membership check skipped: non-numeric user id",
			slog.String("platform_user_id", platformUserID),
		)
		return false
	}

	payload := map[string]any{"user_id": userID}
	if numeric, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		payload["chat_id"] = numeric
	} else {
		payload["chat_id"] = chatID
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := tg.post(ctx, "getChatMember", payload, &resp); err != nil {
		tg.logger.Warn("telegram getChatMember failed",
			slog.String("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !resp.OK {
		tg.logger.Info("telegram getChatMember not ok",
			slog.String("chat_id", chatID),
			slog.Int64("user_id", userID),
		)
		return false
	}

	return memberStatuses[resp.Result.Status]
}

// BotMessage is one inbound message seen by the bot, as much of it as the
// code issuer's identity scan needs.
type BotMessage struct {
	FromID    int64
	Username  string
	FirstName string
	Text      string
}

// RecentMessages polls getUpdates and flattens the result to messages. This
// backs the issuer's best-effort identity resolution; it is a fallback path,
// not a contract — under heavy bot traffic the code may have scrolled out of
// the update window, and the issuer degrades to a synthetic identity.
func (tg *Telegram) RecentMessages(ctx context.Context, limit int) ([]BotMessage, error) {
	if !tg.Configured() {
		return nil, apperror.Configuration("telegram bot token")
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result []struct {
			Message struct {
				From struct {
					ID        int64  `json:"id"`
					Username  string `json:"username"`
					FirstName string `json:"first_name"`
				} `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}
	payload := map[string]any{
		"limit":           limit,
		"allowed_updates": []string{"message"},
	}
	if err := tg.post(ctx, "getUpdates", payload, &resp); err != nil {
		return nil, apperror.Upstream("telegram getUpdates")
	}
	if !resp.OK {
		return nil, apperror.Upstream("telegram getUpdates")
	}

	messages := make([]BotMessage, 0, len(resp.Result))
	for _, upd := range resp.Result {
		if upd.Message.From.ID == 0 {
			continue
		}
		messages = append(messages, BotMessage{
			FromID:    upd.Message.From.ID,
			Username:  upd.Message.From.Username,
			FirstName: upd.Message.From.FirstName,
			Text:      upd.Message.Text,
		})
	}
	return messages, nil
}

// post sends a JSON body to a bot method and decodes the JSON response.
// Non-2xx is an error here; callers decide whether that becomes false
// (membership) or ErrUpstream (message polling).
func (tg *Telegram) post(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", tg.apiBase, tg.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tg.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}

	return nil
}
