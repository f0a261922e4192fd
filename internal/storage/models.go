package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a record whose key is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrVersionConflict is returned by UpdateSessionCAS when the stored version
// no longer matches the expected one: a concurrent writer got there first.
var ErrVersionConflict = errors.New("session version conflict")

// FeedbackRecord is one explicit user judgement on a reply, keyed by message
// id. Resubmitting the same message id updates the record in place.
type FeedbackRecord struct {
	MessageID string
	SessionID string
	Kind      string // "upvote" or "downvote"
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TelemetryRow is a per-turn outcome record. Loss is acceptable; nothing on
// the response path waits for these.
type TelemetryRow struct {
	TurnID     string
	SessionID  string
	Intent     string
	Handler    string
	Outcome    string
	TotalMs    int64
	StagesJSON string
	CreatedAt  time.Time
}
