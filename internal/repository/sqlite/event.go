package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/dropforge/socialverify/internal/model"
)

// AppendEvent persists an event. Events are append-only: there is no update
// or delete path anywhere in this package. seq comes back from the insert so
// the caller hands subscribers a fully-ordered record.
func (db *DB) AppendEvent(ctx context.Context, ev *model.VerificationEvent) error {
	if ev.ID == "" {
		ev.ID = xid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO verification_events
			(id, user_id, raffle_id, event_type, task_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.UserID,
		ev.RaffleID,
		string(ev.EventType),
		string(ev.TaskType),
		ev.Metadata,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending %s event for %s/%s: %w",
			ev.EventType, ev.UserID, ev.RaffleID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading event seq: %w", err)
	}
	ev.Seq = seq

	return nil
}

// AppendEventOnce appends the event only if the pair has no event of the
// same type yet. Check and insert run in one transaction; with all writes
// serialized on the single pooled connection, two racing callers get exactly
// one inserted=true. The partial unique index on all_completed backstops the
// same guarantee at the schema level.
func (db *DB) AppendEventOnce(ctx context.Context, ev *model.VerificationEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = xid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning append-once: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_events
		WHERE user_id = ? AND raffle_id = ? AND event_type = ?`,
		ev.UserID, ev.RaffleID, string(ev.EventType),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking for prior %s event %s/%s: %w",
			ev.EventType, ev.UserID, ev.RaffleID, err)
	}
	if count > 0 {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO verification_events
			(id, user_id, raffle_id, event_type, task_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.UserID,
		ev.RaffleID,
		string(ev.EventType),
		string(ev.TaskType),
		ev.Metadata,
		ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: appending %s event for %s/%s: %w",
			ev.EventType, ev.UserID, ev.RaffleID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("sqlite: reading event seq: %w", err)
	}
	ev.Seq = seq

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing append-once: %w", err)
	}

	return true, nil
}

// ListEvents returns the pair's events in emission order.
func (db *DB) ListEvents(ctx context.Context, userID, raffleID string) ([]model.VerificationEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, id, user_id, raffle_id, event_type, task_type, metadata, created_at
		FROM verification_events
		WHERE user_id = ? AND raffle_id = ?
		ORDER BY seq ASC`,
		userID, raffleID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events %s/%s: %w", userID, raffleID, err)
	}
	defer rows.Close()

	events := []model.VerificationEvent{}
	for rows.Next() {
		var (
			ev        model.VerificationEvent
			eventType string
			taskType  string
		)
		if err := rows.Scan(
			&ev.Seq, &ev.ID, &ev.UserID, &ev.RaffleID,
			&eventType, &taskType, &ev.Metadata, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning event row: %w", err)
		}
		ev.EventType = model.EventType(eventType)
		ev.TaskType = model.TaskType(taskType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating event rows: %w", err)
	}

	return events, nil
}

// HasEvent reports whether any event of the given type has been recorded for
// the pair. A read-side pre-check only; the once-only guarantee behind
// all_completed is AppendEventOnce's.
func (db *DB) HasEvent(ctx context.Context, userID, raffleID string, typ model.EventType) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_events
		WHERE user_id = ? AND raffle_id = ? AND event_type = ?`,
		userID, raffleID, string(typ),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking for %s event %s/%s: %w", typ, userID, raffleID, err)
	}

	return count > 0, nil
}
