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
)

// UpsertVerification writes the outcome for (user, raffle, task) atomically.
// Invariants enforced here rather than in callers:
//
//   - at most one row per key, whatever the interleaving of writers;
//   - completed_at is written once, on the first transition into completed,
//     and COALESCE keeps the original value on every later write;
//   - created_at survives re-verification;
//   - the firstCompletion flag is computed inside the write transaction, so
//     two racing completions for the same key report it exactly once.
//
// The struct is updated in place with the canonical stored values.
func (db *DB) UpsertVerification(ctx context.Context, rec *model.VerificationRecord) (bool, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var completedAt interface{}
	if rec.Status == model.StatusCompleted {
		completedAt = now
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning verification upsert: %w", err)
	}
	defer tx.Rollback()

	var prevStatus sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM verification_records
		WHERE user_id = ? AND raffle_id = ? AND task_type = ?`,
		rec.UserID, rec.RaffleID, string(rec.TaskType),
	).Scan(&prevStatus)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("sqlite: reading prior verification %s/%s/%s: %w",
			rec.UserID, rec.RaffleID, rec.TaskType, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_records
			(id, user_id, raffle_id, task_type, platform, status,
			 verification_details, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, raffle_id, task_type) DO UPDATE SET
			platform             = excluded.platform,
			status               = excluded.status,
			verification_details = excluded.verification_details,
			updated_at           = excluded.updated_at,
			completed_at         = COALESCE(verification_records.completed_at, excluded.completed_at)`,
		rec.ID,
		rec.UserID,
		rec.RaffleID,
		string(rec.TaskType),
		string(rec.Platform),
		string(rec.Status),
		rec.VerificationDetails,
		rec.CreatedAt,
		rec.UpdatedAt,
		completedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: upserting verification %s/%s/%s: %w",
			rec.UserID, rec.RaffleID, rec.TaskType, err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, raffle_id, task_type, platform, status,
		       verification_details, created_at, updated_at, completed_at
		FROM verification_records
		WHERE user_id = ? AND raffle_id = ? AND task_type = ?`,
		rec.UserID, rec.RaffleID, string(rec.TaskType),
	)
	stored, err := scanVerification(row)
	if err != nil {
		return false, fmt.Errorf("sqlite: reading back verification %s/%s/%s: %w",
			rec.UserID, rec.RaffleID, rec.TaskType, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing verification upsert: %w", err)
	}
	*rec = *stored

	firstCompletion := rec.Status == model.StatusCompleted &&
		(!prevStatus.Valid || prevStatus.String != string(model.StatusCompleted))

	return firstCompletion, nil
}

// GetVerification returns the record for the key, or apperror.ErrNotFound.
func (db *DB) GetVerification(ctx context.Context, userID, raffleID string, task model.TaskType) (*model.VerificationRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, raffle_id, task_type, platform, status,
		       verification_details, created_at, updated_at, completed_at
		FROM verification_records
		WHERE user_id = ? AND raffle_id = ? AND task_type = ?`,
		userID, raffleID, string(task),
	)

	rec, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("verification record",
				fmt.Sprintf("%s/%s/%s", userID, raffleID, task))
		}
		return nil, fmt.Errorf("sqlite: getting verification %s/%s/%s: %w",
			userID, raffleID, task, err)
	}
	return rec, nil
}

// ListVerifications returns all records for the pair, oldest first. The
// order is stable so progress snapshots show tasks in a consistent sequence.
func (db *DB) ListVerifications(ctx context.Context, userID, raffleID string) ([]model.VerificationRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, raffle_id, task_type, platform, status,
		       verification_details, created_at, updated_at, completed_at
		FROM verification_records
		WHERE user_id = ? AND raffle_id = ?
		ORDER BY created_at ASC, task_type ASC`,
		userID, raffleID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing verifications %s/%s: %w", userID, raffleID, err)
	}
	defer rows.Close()

	records := []model.VerificationRecord{}
	for rows.Next() {
		rec, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning verification row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating verification rows: %w", err)
	}

	return records, nil
}

func scanVerification(s scanner) (*model.VerificationRecord, error) {
	var (
		rec         model.VerificationRecord
		taskType    string
		platform    string
		status      string
		completedAt sql.NullTime
	)
	err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.RaffleID,
		&taskType,
		&platform,
		&status,
		&rec.VerificationDetails,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.TaskType = model.TaskType(taskType)
	rec.Platform = model.Platform(platform)
	rec.Status = model.VerificationStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
