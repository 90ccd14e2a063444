package model

import "time"

// TaskType is the canonical name of a social action tied to a raffle.
// Inbound requests may use aliases ("telegram_join", "join"); the
// verification engine normalizes them before anything touches the store,
// so the (user, raffle, task) key is stable across client spellings.
type TaskType string

const (
	TaskFollow     TaskType = "follow"      // twitter: follow a target account
	TaskRetweet    TaskType = "retweet"     // twitter: retweet a target tweet
	TaskJoinGroup  TaskType = "join_group"  // telegram: member of a group/channel
	TaskJoinServer TaskType = "join_server" // discord: member of a guild
)

// VerificationStatus is the durable outcome of a task check.
type VerificationStatus string

const (
	StatusPending   VerificationStatus = "pending"
	StatusCompleted VerificationStatus = "completed"
	StatusFailed    VerificationStatus = "failed"
)

// VerificationRecord is the single source of truth for whether a user has
// completed a task for a raffle. Natural key: (UserID, RaffleID, TaskType) —
// the store upserts on that key, so repeated checks can never duplicate it.
//
// CompletedAt is set exactly once, on the first transition into
// StatusCompleted, and survives later re-verifications.
type VerificationRecord struct {
	ID                  string             `json:"id"`
	UserID              string             `json:"user_id"`
	RaffleID            string             `json:"raffle_id"`
	TaskType            TaskType           `json:"task_type"`
	Platform            Platform           `json:"platform"`
	Status              VerificationStatus `json:"status"`
	VerificationDetails string             `json:"verification_details,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

// PendingVerificationCode is the issued-but-not-yet-confirmed state of the
// Telegram linking flow. Keyed by UserID: a user has at most one outstanding
// code, and issuing a new one supersedes the old.
//
// Verified codes are terminal — they are never matched again. Expired codes
// are rejected lazily on read rather than eagerly deleted.
type PendingVerificationCode struct {
	UserID           string    `json:"user_id"`
	Code             string    `json:"code"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	Verified         bool      `json:"verified"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expired reports whether the code is past its deadline at the given instant.
func (c *PendingVerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
