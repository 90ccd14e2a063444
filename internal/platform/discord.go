package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
)

const (
	discordAuthURL  = "https://discord.com/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
	discordAPIBase  = "https://discord.com/api"
)

// DiscordConfig mirrors TwitterConfig; same overrides, no PKCE.
type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

// Discord implements Linker and TaskVerifier against the Discord API. The
// exchange shape is identical to Twitter's minus PKCE, and the join_server
// task is answered from the user's own guild list — the "guilds" scope lets
// us ask on the user's behalf without a bot in the guild.
type Discord struct {
	config  *oauth2.Config
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

var _ Linker = (*Discord)(nil)
var _ TaskVerifier = (*Discord)(nil)

func NewDiscord(cfg DiscordConfig, logger *slog.Logger) *Discord {
	if cfg.AuthURL == "" {
		cfg.AuthURL = discordAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = discordTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = discordAPIBase
	}

	return &Discord{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  &http.Client{Timeout: upstreamTimeout},
		logger:  logger,
	}
}

func (d *Discord) Platform() model.Platform { return model.PlatformDiscord }

func (d *Discord) configured() bool {
	return d.config.ClientID != "" && d.config.ClientSecret != ""
}

// AuthURL ignores the verifier — Discord's flow has no PKCE.
func (d *Discord) AuthURL(state, _ string) string {
	return d.config.AuthCodeURL(state)
}

// ExchangeCode trades the code for a token and fetches /users/@me.
func (d *Discord) ExchangeCode(ctx context.Context, code, _ string) (*Identity, error) {
	if !d.configured() {
		return nil, apperror.Configuration("discord oauth credentials")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)

	token, err := d.config.Exchange(ctx, code)
	if err != nil {
		d.logger.Warn("discord token exchange failed", slog.String("error", err.Error()))
		return nil, apperror.Upstream("discord token exchange")
	}

	body, err := d.get(ctx, token.AccessToken, "/users/@me")
	if err != nil {
		return nil, err
	}

	var profile struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	}
	if err := json.Unmarshal(body, &profile); err != nil || profile.ID == "" {
		d.logger.Warn("discord profile response malformed")
		return nil, apperror.Upstream("discord profile fetch")
	}

	display := profile.GlobalName
	if display == "" {
		display = profile.Username
	}

	return &Identity{
		ID:             profile.ID,
		Username:       profile.Username,
		DisplayName:    display,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenExpiresAt: token.Expiry,
		RawProfile:     string(body),
	}, nil
}

// VerifyTask answers join_server by listing the user's guilds with their
// stored token and looking for the target guild id.
func (d *Discord) VerifyTask(ctx context.Context, task model.TaskType, target string, acct *model.SocialAccount) (bool, error) {
	if !d.configured() {
		return false, apperror.Configuration("discord oauth credentials")
	}
	if task != model.TaskJoinServer {
		return false, apperror.ValidationFailed("task_type",
			fmt.Sprintf("task %q is not a discord task", task))
	}

	body, err := d.get(ctx, acct.AccessToken, "/users/@me/guilds")
	if err != nil {
		return false, err
	}

	var guilds []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &guilds); err != nil {
		d.logger.Warn("discord guilds response malformed")
		return false, apperror.Upstream("discord membership check")
	}

	for _, g := range guilds {
		if g.ID == target {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) get(ctx context.Context, bearer, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("platform: building discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("discord api call failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("discord api call")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.Upstream("discord api call")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("discord api returned non-2xx",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, apperror.Upstream("discord api call")
	}

	return body, nil
}
