package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/platform"
	"github.com/dropforge/socialverify/internal/repository"
)

const (
	codeTTL = 10 * time.Minute

	// identityScanLimit bounds the getUpdates window scanned for the code.
	identityScanLimit = 100
)

// telegramBot is the slice of the Telegram adapter the code issuer uses.
type telegramBot interface {
	BotUsername() string
	Configured() bool
	RecentMessages(ctx context.Context, limit int) ([]platform.BotMessage, error)
}

// pendingEnvelope is the degraded-fallback form of a pending code, embedded
// in SocialAccount.profile_data when the code store is unavailable.
type pendingEnvelope struct {
	Pending *model.PendingVerificationCode `json:"pending_verification,omitempty"`
}

// InitiateResult is what the caller needs to finish the flow out of band.
type InitiateResult struct {
	AuthURL     string
	Code        string
	BotUsername string
	ExpiresAt   time.Time
}

// TelegramIdentity is the resolved platform identity a successful verify
// yields.
type TelegramIdentity struct {
	UserID   string
	Username string
}

// CodeService implements the Telegram verification-code flow:
// none → issued → (verified | expired). One outstanding code per user;
// issuing again supersedes.
type CodeService struct {
	repo    repository.Store
	bot     telegramBot
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

func NewCodeService(repo repository.Store, bot telegramBot, emitter Emitter, logger *slog.Logger) *CodeService {
	return &CodeService{
		repo:    repo,
		bot:     bot,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
}

// Initiate issues a fresh 6-digit code for the user, superseding any prior
// unverified code, and returns the bot deep link that carries it.
//
// If the code store is unavailable the pending state is embedded in the
// user's telegram SocialAccount profile_data instead, so the flow still
// completes; Verify checks both places.
func (s *CodeService) Initiate(ctx context.Context, userAddress, telegramUsername string) (*InitiateResult, error) {
	wallet, err := auth.NormalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}
	if s.bot.BotUsername() == "" {
		return nil, apperror.Configuration("telegram bot username")
	}

	code, err := newVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}

	pending := &model.PendingVerificationCode{
		UserID:           wallet,
		Code:             code,
		TelegramUsername: strings.TrimPrefix(strings.TrimSpace(telegramUsername), "@"),
		ExpiresAt:        s.now().Add(codeTTL),
	}

	if err := s.repo.UpsertCode(ctx, pending); err != nil {
		s.logger.Warn("code store unavailable, embedding pending state in account",
			slog.String("user", wallet),
			slog.String("error", err.Error()),
		)
		if err := s.embedPending(ctx, wallet, pending); err != nil {
			return nil, fmt.Errorf("storing verification code: %w", err)
		}
	}

	s.logger.Info("telegram verification code issued",
		slog.String("user", wallet),
		slog.Time("expires_at", pending.ExpiresAt),
	)

	return &InitiateResult{
		AuthURL:     fmt.Sprintf("https://t.me/%s?start=%s", s.bot.BotUsername(), code),
		Code:        code,
		BotUsername: s.bot.BotUsername(),
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// Verify matches the submitted code against the user's pending one and, on
// match, resolves the Telegram identity and links the account.
//
// Identity resolution scans recent bot messages for the code. The Bot API
// has no per-code lookup, so under heavy traffic the message may be gone; in
// that case a synthetic tg_<code> identity preserves the link itself.
// Synthetic identities are not numeric Telegram user ids, so membership
// checks against them report not-a-member until the user re-verifies and a
// real id is resolved.
func (s *CodeService) Verify(ctx context.Context, userAddress, submittedCode string) (*TelegramIdentity, error) {
	wallet, err := auth.NormalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}
	submittedCode = strings.TrimSpace(submittedCode)
	if submittedCode == "" {
		return nil, apperror.ValidationFailed("verification_code", "verification_code is required")
	}

	pending, fromFallback, err := s.loadPending(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if pending.Verified {
		return nil, apperror.NoPendingCode()
	}
	if pending.Code != submittedCode {
		return nil, apperror.CodeMismatch()
	}
	if pending.Expired(s.now()) {
		return nil, apperror.CodeExpired()
	}

	identity := s.resolveIdentity(ctx, pending)

	if !fromFallback {
		if err := s.repo.MarkCodeVerified(ctx, wallet); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("marking code verified: %w", err)
		}
	}

	profile, _ := json.Marshal(map[string]string{
		"source":   "verification_code",
		"username": identity.Username,
	})
	acct := &model.SocialAccount{
		UserID:           wallet,
		Platform:         model.PlatformTelegram,
		PlatformUserID:   identity.UserID,
		PlatformUsername: identity.Username,
		ProfileData:      string(profile),
	}
	if err := s.repo.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("linking telegram account: %w", err)
	}

	if err := s.emitter.Emit(ctx, &model.VerificationEvent{
		UserID:    wallet,
		EventType: model.EventVerificationReady,
		Metadata:  `{"platform":"telegram"}`,
	}); err != nil {
		return nil, fmt.Errorf("publishing link event: %w", err)
	}

	s.logger.Info("telegram account linked",
		slog.String("user", wallet),
		slog.String("platform_user_id", identity.UserID),
	)

	return identity, nil
}

// loadPending reads the pending code from the code store, falling back to
// the state embedded in the account's profile_data. The fallback is checked
// on every code-store miss, including a store that is down outright — a code
// issued through the degraded Initiate path must stay verifiable during the
// same outage.
func (s *CodeService) loadPending(ctx context.Context, wallet string) (*model.PendingVerificationCode, bool, error) {
	pending, codeErr := s.repo.GetCode(ctx, wallet)
	if codeErr == nil {
		return pending, false, nil
	}
	if !errors.Is(codeErr, apperror.ErrNotFound) {
		s.logger.Warn("code store unavailable, checking embedded pending state",
			slog.String("user", wallet),
			slog.String("error", codeErr.Error()),
		)
	}

	acct, err := s.repo.GetAccount(ctx, wallet, model.PlatformTelegram)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, false, pendingMiss(codeErr)
		}
		return nil, false, fmt.Errorf("loading telegram account: %w", err)
	}

	var env pendingEnvelope
	if err := json.Unmarshal([]byte(acct.ProfileData), &env); err != nil || env.Pending == nil {
		return nil, false, pendingMiss(codeErr)
	}
	return env.Pending, true, nil
}

// pendingMiss decides what a both-paths-empty lookup means: nothing pending
// when the code store answered NotFound, the store's own failure otherwise —
// a broken store must not masquerade as "no code issued".
func pendingMiss(codeErr error) error {
	if errors.Is(codeErr, apperror.ErrNotFound) {
		return apperror.NoPendingCode()
	}
	return fmt.Errorf("loading verification code: %w", codeErr)
}

// embedPending is the degraded Initiate path: the pending code rides inside
// the (possibly placeholder) telegram SocialAccount row.
func (s *CodeService) embedPending(ctx context.Context, wallet string, pending *model.PendingVerificationCode) error {
	acct, err := s.repo.GetAccount(ctx, wallet, model.PlatformTelegram)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		acct = &model.SocialAccount{
			UserID:   wallet,
			Platform: model.PlatformTelegram,
		}
	}

	raw, err := json.Marshal(pendingEnvelope{Pending: pending})
	if err != nil {
		return fmt.Errorf("encoding pending state: %w", err)
	}
	acct.ProfileData = string(raw)

	return s.repo.UpsertAccount(ctx, acct)
}

// resolveIdentity scans recent bot messages for the code string. Any scan
// failure degrades to the synthetic identity, never to an error — the code
// match already proved the user controls the flow. A synthetic identity
// records the link but carries no numeric user id, so it cannot pass a
// getChatMember check; a later successful re-verification replaces it.
func (s *CodeService) resolveIdentity(ctx context.Context, pending *model.PendingVerificationCode) *TelegramIdentity {
	synthetic := &TelegramIdentity{
		UserID:   "tg_" + pending.Code,
		Username: pending.TelegramUsername,
	}
	if !s.bot.Configured() {
		return synthetic
	}

	messages, err := s.bot.RecentMessages(ctx, identityScanLimit)
	if err != nil {
		s.logger.Warn("identity scan failed, using synthetic identity",
			slog.String("error", err.Error()),
		)
		return synthetic
	}

	for _, msg := range messages {
		if !strings.Contains(msg.Text, pending.Code) {
			continue
		}
		username := msg.Username
		if username == "" {
			username = msg.FirstName
		}
		return &TelegramIdentity{
			UserID:   strconv.FormatInt(msg.FromID, 10),
			Username: username,
		}
	}

	return synthetic
}

// newVerificationCode returns a uniformly random 6-digit code, zero-padded.
func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
