// Package repository defines the storage interfaces the engine depends on.
//
// Every entity with a natural key gets exactly one upsert entry point, and
// that upsert is the only concurrency control the engine relies on: two
// requests racing on the same key must resolve to a single row
// (last-writer-wins on fields, never duplication).
package repository

import (
	"context"

	"github.com/dropforge/socialverify/internal/model"
)

// AccountRepository persists linked platform identities.
// Natural key: (user_id, platform).
type AccountRepository interface {
	// UpsertAccount inserts the account or updates the existing row for the
	// same (user, platform), preserving the original internal ID and
	// created_at. The passed struct is updated in place with the canonical
	// stored values.
	UpsertAccount(ctx context.Context, acct *model.SocialAccount) error

	// GetAccount returns apperror.ErrNotFound when no account is linked.
	GetAccount(ctx context.Context, userID string, platform model.Platform) (*model.SocialAccount, error)

	// ListAccounts returns all linked accounts for the user, any platform.
	ListAccounts(ctx context.Context, userID string) ([]model.SocialAccount, error)
}

// VerificationRepository persists task outcomes.
// Natural key: (user_id, raffle_id, task_type).
type VerificationRepository interface {
	// UpsertVerification writes the outcome for the key, creating or
	// replacing atomically. completed_at is set on the first transition into
	// completed and kept on subsequent writes. The returned flag is true
	// exactly when this write was the key's first transition into completed —
	// the engine emits task_completed on that flag, so it must be computed
	// inside the same transaction as the write.
	UpsertVerification(ctx context.Context, rec *model.VerificationRecord) (firstCompletion bool, err error)

	GetVerification(ctx context.Context, userID, raffleID string, task model.TaskType) (*model.VerificationRecord, error)

	// ListVerifications returns every record for the pair ordered by
	// created_at ascending (stable task order for snapshots).
	ListVerifications(ctx context.Context, userID, raffleID string) ([]model.VerificationRecord, error)
}

// CodeRepository persists pending Telegram verification codes.
// Natural key: user_id — one outstanding code per user.
type CodeRepository interface {
	// UpsertCode replaces any previous code for the user.
	UpsertCode(ctx context.Context, code *model.PendingVerificationCode) error

	// GetCode returns apperror.ErrNotFound when the user has no code on file.
	GetCode(ctx context.Context, userID string) (*model.PendingVerificationCode, error)

	// MarkCodeVerified flips verified=true. Terminal: a verified code is
	// never matched again.
	MarkCodeVerified(ctx context.Context, userID string) error
}

// EventRepository is append-only storage for verification events.
type EventRepository interface {
	// AppendEvent assigns ID, Seq and CreatedAt and persists the event.
	AppendEvent(ctx context.Context, ev *model.VerificationEvent) error

	// AppendEventOnce appends the event unless the pair already has one of
	// the same type, in a single atomic write — two racing calls see exactly
	// one true. This is the once-only guard for all_completed; it must hold
	// at the storage layer, not as a separate check-then-append.
	AppendEventOnce(ctx context.Context, ev *model.VerificationEvent) (inserted bool, err error)

	// ListEvents returns events for the pair in emission order.
	ListEvents(ctx context.Context, userID, raffleID string) ([]model.VerificationEvent, error)

	// HasEvent reports whether at least one event of the given type exists
	// for the pair. A cheap read-side pre-check; the authoritative once-only
	// guarantee is AppendEventOnce's.
	HasEvent(ctx context.Context, userID, raffleID string, typ model.EventType) (bool, error)
}

// Store is the full storage surface, implemented by repository/sqlite.
type Store interface {
	AccountRepository
	VerificationRepository
	CodeRepository
	EventRepository
}
