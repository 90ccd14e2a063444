package model

import "time"

// EventType classifies a VerificationEvent.
type EventType string

const (
	EventTaskCompleted     EventType = "task_completed"
	EventAllCompleted      EventType = "all_completed"
	EventVerificationReady EventType = "verification_ready"
	EventCustom            EventType = "custom"
)

// VerificationEvent is an append-only record of something observers care
// about: a task completing, a user finishing every task of a raffle, or a
// platform link becoming usable. Events are never updated or deleted.
//
// Seq is assigned by the store on append and strictly increases, so events
// for a (user, raffle) pair have a total order even when two land on the
// same created_at millisecond.
type VerificationEvent struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	UserID    string    `json:"user_id"`
	RaffleID  string    `json:"raffle_id"`
	EventType EventType `json:"event_type"`
	TaskType  TaskType  `json:"task_type,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
