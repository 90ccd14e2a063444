package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
)

// UpsertCode stores a fresh pending code for the user, unconditionally
// replacing any earlier one. user_id is the PRIMARY KEY, so concurrent
// initiates leave exactly one outstanding code — the most recent write.
func (db *DB) UpsertCode(ctx context.Context, code *model.PendingVerificationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO pending_verification_codes
			(user_id, code, telegram_username, expires_at, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			code              = excluded.code,
			telegram_username = excluded.telegram_username,
			expires_at        = excluded.expires_at,
			verified          = excluded.verified,
			created_at        = excluded.created_at`,
		code.UserID,
		code.Code,
		code.TelegramUsername,
		code.ExpiresAt.UTC(),
		boolToInt(code.Verified),
		code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting verification code for user %s: %w", code.UserID, err)
	}

	return nil
}

// GetCode returns the user's pending code, verified or not. Expiry is the
// caller's check — expired rows stay on disk until superseded.
func (db *DB) GetCode(ctx context.Context, userID string) (*model.PendingVerificationCode, error) {
	var (
		code     model.PendingVerificationCode
		verified int
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, code, telegram_username, expires_at, verified, created_at
		FROM pending_verification_codes WHERE user_id = ?`,
		userID,
	).Scan(
		&code.UserID,
		&code.Code,
		&code.TelegramUsername,
		&code.ExpiresAt,
		&verified,
		&code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pending verification code", userID)
		}
		return nil, fmt.Errorf("sqlite: getting verification code for user %s: %w", userID, err)
	}
	code.Verified = verified != 0

	return &code, nil
}

// MarkCodeVerified flips the code into its terminal state.
func (db *DB) MarkCodeVerified(ctx context.Context, userID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_verification_codes SET verified = 1 WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking code verified for user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("pending verification code", userID)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
