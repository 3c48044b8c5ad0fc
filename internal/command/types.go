package command

import "time"

// Status represents the lifecycle state of a command.
type Status string

// Status constants. A command moves queued -> sent, then settles in
// exactly one of the three terminal states.
const (
	StatusQueued       Status = "queued"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
	StatusTimedOut     Status = "timed_out"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusAcknowledged || s == StatusFailed || s == StatusTimedOut
}

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusQueued, StatusSent, StatusAcknowledged,
		StatusFailed, StatusTimedOut,
	}
}

// Command represents one instruction sent to a device within a session.
// This matches the database schema in migrations/20260315_100000_initial_schema.up.sql.
type Command struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`

	// Payload is opaque to the core; the device adapter interprets it.
	Payload []byte `json:"payload"`

	Status Status `json:"status"`

	// Attempts counts transport sends, including retries.
	Attempts int `json:"attempts"`

	// Detail carries the failure reason or acknowledgment note.
	Detail string `json:"detail,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result is the terminal outcome of a command.
type Result struct {
	Status Status
	Detail string
}
