package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/platform"
	"github.com/dropforge/socialverify/internal/repository"
)

// LinkService runs the OAuth authorization-code linking flow for platforms
// that have one (Twitter, Discord). Telegram links through the code flow in
// CodeService instead.
type LinkService struct {
	repo    repository.AccountRepository
	state   *auth.StateService
	emitter Emitter
	linkers map[model.Platform]platform.Linker
	logger  *slog.Logger
}

func NewLinkService(repo repository.AccountRepository, state *auth.StateService, emitter Emitter, linkers []platform.Linker, logger *slog.Logger) *LinkService {
	byPlatform := make(map[model.Platform]platform.Linker, len(linkers))
	for _, l := range linkers {
		byPlatform[l.Platform()] = l
	}
	return &LinkService{
		repo:    repo,
		state:   state,
		emitter: emitter,
		linkers: byPlatform,
		logger:  logger,
	}
}

// Begin builds the consent-page redirect for the platform, carrying the
// wallet (and, for PKCE platforms, a fresh code verifier) in a signed state.
func (s *LinkService) Begin(ctx context.Context, platformName, userAddress string) (string, error) {
	plat := model.Platform(strings.ToLower(strings.TrimSpace(platformName)))
	linker, ok := s.linkers[plat]
	if !ok {
		if !plat.Valid() {
			return "", apperror.ValidationFailed("platform",
				fmt.Sprintf("unknown platform %q", platformName))
		}
		return "", apperror.Configuration(string(plat) + " linking")
	}

	wallet, err := auth.NormalizeAddress(userAddress)
	if err != nil {
		return "", err
	}

	var verifier string
	if plat == model.PlatformTwitter {
		verifier, err = auth.NewPKCEVerifier()
		if err != nil {
			return "", fmt.Errorf("generating code verifier: %w", err)
		}
	}

	state, err := s.state.Issue(auth.LinkState{
		Wallet:   wallet,
		Platform: plat,
		Verifier: verifier,
	})
	if err != nil {
		return "", fmt.Errorf("issuing link state: %w", err)
	}

	s.logger.Info("link flow started",
		slog.String("user", wallet),
		slog.String("platform", string(plat)),
	)

	return linker.AuthURL(state, verifier), nil
}

// Complete handles the platform callback: validates the state, exchanges the
// code, stores the linked account and announces the link.
func (s *LinkService) Complete(ctx context.Context, platformName, code, state string) (*model.SocialAccount, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}

	linkState, err := s.state.Validate(state)
	if err != nil {
		return nil, apperror.ValidationFailed("state", "link state is invalid or expired")
	}

	plat := model.Platform(strings.ToLower(strings.TrimSpace(platformName)))
	if plat != linkState.Platform {
		return nil, apperror.ValidationFailed("state",
			fmt.Sprintf("state was issued for %s, not %s", linkState.Platform, plat))
	}
	linker, ok := s.linkers[plat]
	if !ok {
		return nil, apperror.Configuration(string(plat) + " linking")
	}

	identity, err := linker.ExchangeCode(ctx, code, linkState.Verifier)
	if err != nil {
		return nil, err
	}

	profile := identity.RawProfile
	if profile == "" {
		raw, _ := json.Marshal(map[string]string{"username": identity.Username})
		profile = string(raw)
	}

	acct := &model.SocialAccount{
		UserID:           linkState.Wallet,
		Platform:         plat,
		PlatformUserID:   identity.ID,
		PlatformUsername: identity.Username,
		AccessToken:      identity.AccessToken,
		RefreshToken:     identity.RefreshToken,
		TokenExpiresAt:   identity.TokenExpiresAt,
		ProfileData:      profile,
	}
	if err := s.repo.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("storing linked account: %w", err)
	}

	if err := s.emitter.Emit(ctx, &model.VerificationEvent{
		UserID:    linkState.Wallet,
		EventType: model.EventVerificationReady,
		Metadata:  fmt.Sprintf(`{"platform":%q}`, plat),
	}); err != nil {
		return nil, fmt.Errorf("publishing link event: %w", err)
	}

	s.logger.Info("platform account linked",
		slog.String("user", linkState.Wallet),
		slog.String("platform", string(plat)),
		slog.String("platform_user_id", identity.ID),
	)

	return acct, nil
}
