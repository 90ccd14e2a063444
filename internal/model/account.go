// Package model defines the data structures used throughout the application.
package model

import "time"

// Platform identifies an external social service a task can run against.
//
// The set is closed: every inbound task type normalizes to exactly one of
// these, and the verification engine refuses anything it cannot map.
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformDiscord, PlatformTelegram:
		return true
	}
	return false
}

// SocialAccount links a wallet-identified user to one external platform
// identity. The natural key is (UserID, Platform) — one linked account per
// platform per user. Re-linking updates the row in place; rows are never
// implicitly deleted.
//
// UserID is the EIP-55 checksummed wallet address, so the same wallet always
// maps to the same row regardless of how the caller cased it.
//
// AccessToken / RefreshToken hold OAuth credentials for platforms that issue
// them (Twitter, Discord). Telegram identities come from the bot code flow
// and carry no token. ProfileData is the raw upstream profile as JSON — kept
// verbatim so later features don't need a re-fetch.
type SocialAccount struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Platform         Platform  `json:"platform"`
	PlatformUserID   string    `json:"platform_user_id"`
	PlatformUsername string    `json:"platform_username"`
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	TokenExpiresAt   time.Time `json:"token_expires_at,omitempty"`
	ProfileData      string    `json:"profile_data,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
