package platform

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
)

// Default Twitter (X) endpoints. Overridable in TwitterConfig so tests can
// point the adapter at an httptest server.
const (
	twitterAuthURL  = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL = "https://api.twitter.com/2/oauth2/token"
	twitterAPIBase  = "https://api.twitter.com"
)

// TwitterConfig carries the OAuth app credentials and endpoint overrides.
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	AuthURL      string // defaults to the real consent endpoint
	TokenURL     string // defaults to the real token endpoint
	APIBaseURL   string // defaults to https://api.twitter.com
}

// Twitter implements Linker and TaskVerifier for the X API v2.
//
// The code exchange uses OAuth2 with PKCE: the caller supplies the verifier
// it generated before redirecting (carried in the signed state parameter),
// and the adapter sends the matching code_verifier on exchange.
type Twitter struct {
	config  *oauth2.Config
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

var _ Linker = (*Twitter)(nil)
var _ TaskVerifier = (*Twitter)(nil)

// NewTwitter creates the adapter. Missing credentials don't fail here — the
// server should start with an unconfigured platform — but every operation on
// an unconfigured adapter returns apperror.ErrConfiguration.
func NewTwitter(cfg TwitterConfig, logger *slog.Logger) *Twitter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = twitterAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = twitterTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = twitterAPIBase
	}

	return &Twitter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"users.read", "tweet.read", "follows.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  &http.Client{Timeout: upstreamTimeout},
		logger:  logger,
	}
}

func (t *Twitter) Platform() model.Platform { return model.PlatformTwitter }

func (t *Twitter) configured() bool {
	return t.config.ClientID != "" && t.config.ClientSecret != ""
}

// AuthURL builds the consent URL with the S256 challenge derived from the
// caller's PKCE verifier.
func (t *Twitter) AuthURL(state, verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return t.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades the authorization code for a token, then fetches the
// profile via GET /2/users/me. Either upstream failure maps to ErrUpstream;
// the caller decides whether to retry.
func (t *Twitter) ExchangeCode(ctx context.Context, code, verifier string) (*Identity, error) {
	if !t.configured() {
		return nil, apperror.Configuration("twitter oauth credentials")
	}

	// Route the oauth2 library's internal HTTP through our timeout client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)

	token, err := t.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		t.logger.Warn("twitter token exchange failed", slog.String("error", err.Error()))
		return nil, apperror.Upstream("twitter token exchange")
	}

	body, err := t.get(ctx, token.AccessToken, "/2/users/me")
	if err != nil {
		return nil, err
	}

	var profile struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &profile); err != nil || profile.Data.ID == "" {
		t.logger.Warn("twitter profile response malformed")
		return nil, apperror.Upstream("twitter profile fetch")
	}

	return &Identity{
		ID:             profile.Data.ID,
		Username:       profile.Data.Username,
		DisplayName:    profile.Data.Name,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenExpiresAt: token.Expiry,
		RawProfile:     string(body),
	}, nil
}

// VerifyTask checks follow / retweet tasks with the linked account's own
// token.
func (t *Twitter) VerifyTask(ctx context.Context, task model.TaskType, target string, acct *model.SocialAccount) (bool, error) {
	if !t.configured() {
		return false, apperror.Configuration("twitter oauth credentials")
	}

	switch task {
	case model.TaskFollow:
		return t.checkFollow(ctx, target, acct)
	case model.TaskRetweet:
		return t.checkRetweet(ctx, target, acct)
	default:
		return false, apperror.ValidationFailed("task_type",
			fmt.Sprintf("task %q is not a twitter task", task))
	}
}

// checkFollow scans one page of the account's following list for the target
// handle or id. 1000 entries covers the overwhelming majority of accounts;
// beyond that the check reads as not-followed and the caller may re-verify.
func (t *Twitter) checkFollow(ctx context.Context, target string, acct *model.SocialAccount) (bool, error) {
	path := fmt.Sprintf("/2/users/%s/following?max_results=1000",
		url.PathEscape(acct.PlatformUserID))
	body, err := t.get(ctx, acct.AccessToken, path)
	if err != nil {
		return false, err
	}

	var resp struct {
		Data []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.logger.Warn("twitter following response malformed")
		return false, apperror.Upstream("twitter follow check")
	}

	want := strings.TrimPrefix(strings.ToLower(target), "@")
	for _, u := range resp.Data {
		if u.ID == target || strings.ToLower(u.Username) == want {
			return true, nil
		}
	}
	return false, nil
}

// checkRetweet looks for the account in the tweet's retweeted_by list.
func (t *Twitter) checkRetweet(ctx context.Context, tweetID string, acct *model.SocialAccount) (bool, error) {
	path := fmt.Sprintf("/2/tweets/%s/retweeted_by?max_results=100",
		url.PathEscape(tweetID))
	body, err := t.get(ctx, acct.AccessToken, path)
	if err != nil {
		return false, err
	}

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.logger.Warn("twitter retweeted_by response malformed")
		return false, apperror.Upstream("twitter retweet check")
	}

	for _, u := range resp.Data {
		if u.ID == acct.PlatformUserID {
			return true, nil
		}
	}
	return false, nil
}

// get performs a bearer-authenticated GET against the API base and returns
// the body, mapping non-2xx to ErrUpstream with the detail logged, not
// surfaced.
func (t *Twitter) get(ctx context.Context, bearer, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("platform: building twitter request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("twitter api call failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("twitter api call")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.Upstream("twitter api call")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Warn("twitter api returned non-2xx",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, apperror.Upstream("twitter api call")
	}

	return body, nil
}
