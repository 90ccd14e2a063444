// Package platform holds the per-platform adapters: narrow, purpose-built
// clients that either exchange an OAuth authorization code for a durable
// identity (Twitter, Discord) or perform an out-of-band check against a bot
// API (Telegram).
//
// Adapters only talk HTTP. They never touch the stores — recording outcomes
// is the verification engine's job, which keeps a slow upstream call from
// ever being held across a store write.
package platform

import (
	"context"
	"time"

	"github.com/dropforge/socialverify/internal/model"
)

// upstreamTimeout bounds every outbound platform call. A request that blows
// this budget surfaces as an upstream failure, never as a hung verification.
const upstreamTimeout = 10 * time.Second

// Identity is what a successful code exchange (or code-flow resolution)
// yields: the durable external identity plus the credential that proved it.
type Identity struct {
	ID             string // platform's stable user id
	Username       string
	DisplayName    string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	RawProfile     string // upstream profile JSON, stored verbatim
}

// Linker is the authorization-code capability. Telegram has no Linker — its
// identity is established through the verification-code flow instead.
type Linker interface {
	Platform() model.Platform

	// AuthURL builds the redirect URL for the platform's consent page. The
	// verifier is the PKCE code verifier for platforms that require it
	// (Twitter); adapters without PKCE ignore it.
	AuthURL(state, verifier string) string

	// ExchangeCode trades the callback code for an identity + credential.
	// Non-2xx upstream responses map to apperror.ErrUpstream; the adapter
	// never retries — that decision belongs to the caller.
	ExchangeCode(ctx context.Context, code, verifier string) (*Identity, error)
}

// TaskVerifier answers "did this linked account perform this task?" with a
// plain boolean. An error means the check itself could not run (bad config,
// upstream failure); false means the platform answered and the answer is no.
type TaskVerifier interface {
	Platform() model.Platform
	VerifyTask(ctx context.Context, task model.TaskType, target string, acct *model.SocialAccount) (bool, error)
}
