// Package auth covers the two identity concerns the engine has: the signed
// OAuth state parameter that ties a platform callback back to a wallet, and
// wallet address normalization.
//
// The state parameter is a short-lived HS256 JWT. That makes the callback
// self-authenticating — the server keeps no per-flow session — while still
// being tamper-proof: an attacker cannot splice their own wallet (or their
// own PKCE verifier) into someone else's callback without the signing key.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropforge/socialverify/internal/model"
)

const (
	stateIssuer = "socialverify"
	stateTTL    = 10 * time.Minute
)

// LinkState is the payload round-tripped through the platform's consent page.
type LinkState struct {
	Wallet   string
	Platform model.Platform
	Verifier string // PKCE code verifier; empty for platforms without PKCE
}

// StateService signs and validates link states.
type StateService struct {
	secret []byte
}

// NewStateService creates a StateService. The secret should be at least 32
// bytes of random data in production (STATE_SECRET=$(openssl rand -hex 32)).
func NewStateService(secret string) (*StateService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	return &StateService{secret: []byte(secret)}, nil
}

type stateClaims struct {
	Platform string `json:"plt"`
	Verifier string `json:"pkv,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a state for the given wallet/platform/verifier, valid for ten
// minutes — long enough to approve the consent screen, short enough that a
// leaked state is useless.
func (s *StateService) Issue(state LinkState) (string, error) {
	now := time.Now()

	c := stateClaims{
		Platform: string(state.Platform),
		Verifier: state.Verifier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   state.Wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
			Issuer:    stateIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a state string, rejecting expired states,
// wrong issuers and anything not signed HS256 with our key.
func (s *StateService) Validate(tokenStr string) (*LinkState, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&stateClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: state expired")
		}
		return nil, fmt.Errorf("auth: invalid state: %w", err)
	}

	c, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid state claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: state has no wallet")
	}
	platform := model.Platform(c.Platform)
	if !platform.Valid() {
		return nil, fmt.Errorf("auth: state has unknown platform %q", c.Platform)
	}

	return &LinkState{
		Wallet:   c.Subject,
		Platform: platform,
		Verifier: c.Verifier,
	}, nil
}

// NewPKCEVerifier returns a fresh high-entropy code verifier (RFC 7636:
// 43–128 URL-safe characters; 32 random bytes encode to 43).
func NewPKCEVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating PKCE verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
