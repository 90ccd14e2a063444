package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/repository"
)

// compile-time check that *DB implements the full store surface
var _ repository.Store = (*DB)(nil)

// UpsertAccount inserts or updates the linked account for (user, platform).
//
// The write is a single `INSERT … ON CONFLICT DO UPDATE` so two concurrent
// callbacks for the same user/platform cannot produce two rows — the UNIQUE
// constraint arbitrates, last writer wins on fields. The original internal
// id and created_at are preserved across re-links.
func (db *DB) UpsertAccount(ctx context.Context, acct *model.SocialAccount) error {
	now := time.Now().UTC()
	if acct.ID == "" {
		acct.ID = xid.New().String()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	var tokenExpires interface{}
	if !acct.TokenExpiresAt.IsZero() {
		tokenExpires = acct.TokenExpiresAt.UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO social_accounts
			(id, user_id, platform, platform_user_id, platform_username,
			 access_token, refresh_token, token_expires_at, profile_data,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			platform_user_id  = excluded.platform_user_id,
			platform_username = excluded.platform_username,
			access_token      = excluded.access_token,
			refresh_token     = excluded.refresh_token,
			token_expires_at  = excluded.token_expires_at,
			profile_data      = excluded.profile_data,
			updated_at        = excluded.updated_at`,
		acct.ID,
		acct.UserID,
		string(acct.Platform),
		acct.PlatformUserID,
		acct.PlatformUsername,
		acct.AccessToken,
		acct.RefreshToken,
		tokenExpires,
		acct.ProfileData,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting %s account for user %s: %w",
			acct.Platform, acct.UserID, err)
	}

	// Read the canonical row back: on a conflicting update the stored id and
	// created_at belong to the original row, not the values we just generated.
	stored, err := db.GetAccount(ctx, acct.UserID, acct.Platform)
	if err != nil {
		return fmt.Errorf("sqlite: reading back %s account for user %s: %w",
			acct.Platform, acct.UserID, err)
	}
	acct.ID = stored.ID
	acct.CreatedAt = stored.CreatedAt

	return nil
}

// GetAccount returns the linked account, or apperror.ErrNotFound if the user
// never completed the linking flow for that platform.
func (db *DB) GetAccount(ctx context.Context, userID string, platform model.Platform) (*model.SocialAccount, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, platform, platform_user_id, platform_username,
		       access_token, refresh_token, token_expires_at, profile_data,
		       created_at, updated_at
		FROM social_accounts WHERE user_id = ? AND platform = ?`,
		userID, string(platform),
	)

	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("social account", userID+"/"+string(platform))
		}
		return nil, fmt.Errorf("sqlite: getting %s account for user %s: %w", platform, userID, err)
	}
	return acct, nil
}

// ListAccounts returns every linked account for the user.
func (db *DB) ListAccounts(ctx context.Context, userID string) ([]model.SocialAccount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, platform, platform_user_id, platform_username,
		       access_token, refresh_token, token_expires_at, profile_data,
		       created_at, updated_at
		FROM social_accounts WHERE user_id = ? ORDER BY platform`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	accounts := []model.SocialAccount{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account row: %w", err)
		}
		accounts = append(accounts, *acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating account rows: %w", err)
	}

	return accounts, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.SocialAccount, error) {
	var (
		acct         model.SocialAccount
		platform     string
		tokenExpires sql.NullTime
	)
	err := s.Scan(
		&acct.ID,
		&acct.UserID,
		&platform,
		&acct.PlatformUserID,
		&acct.PlatformUsername,
		&acct.AccessToken,
		&acct.RefreshToken,
		&tokenExpires,
		&acct.ProfileData,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Platform = model.Platform(platform)
	if tokenExpires.Valid {
		acct.TokenExpiresAt = tokenExpires.Time
	}
	return &acct, nil
}
