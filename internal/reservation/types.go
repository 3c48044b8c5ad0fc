package reservation

import "time"

// Status represents the lifecycle state of a reservation.
type Status string

// Status constants. A reservation moves pending -> active -> completed,
// or is cancelled while still pending.
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusActive, StatusCompleted, StatusCancelled}
}

// Settled reports whether the reservation has reached an end state.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Reservation represents a future or in-progress claim on a device.
// This matches the database schema in migrations/20260315_100000_initial_schema.up.sql.
type Reservation struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Holder   string `json:"holder"`

	// The window is half-open: [WindowStart, WindowEnd). Back-to-back
	// reservations sharing a boundary instant do not conflict.
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Status Status `json:"status"`

	// SessionID links the session opened at activation, once active.
	SessionID *string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overlaps reports whether two half-open windows intersect.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return start.Before(r.WindowEnd) && r.WindowStart.Before(end)
}
