package session

import "time"

// End reasons recorded when a session closes.
const (
	// ReasonReleased means the holder ended the session voluntarily.
	ReasonReleased = "released"

	// ReasonIdleTimeout means the session was reclaimed after exceeding
	// the idle timeout with no acknowledged commands.
	ReasonIdleTimeout = "idle-timeout"

	// ReasonExpired means the session outlived its requested duration and
	// was reclaimed by a competing requester.
	ReasonExpired = "expired"

	// ReasonPreempted means an activated reservation claimed the device
	// after the grace period elapsed.
	ReasonPreempted = "reservation-preempted"

	// ReasonDeviceLost means the device dropped out of the online status.
	ReasonDeviceLost = "device-lost"
)

// Session represents an exclusive control claim on a device.
// This matches the database schema in migrations/20260315_100000_initial_schema.up.sql.
type Session struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`

	// Holder identifies who owns the session. Authentication happens
	// upstream; the core treats this as an opaque principal.
	Holder string `json:"holder"`

	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`

	// ExpiresAt bounds the lease: the session may be reclaimed once this
	// instant passes, whether or not it has been active.
	ExpiresAt time.Time `json:"expires_at"`

	// EndedAt is nil while the session is open.
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// IdleExpired reports whether the session has gone longer than timeout
// without activity, as of now.
func (s *Session) IdleExpired(now time.Time, timeout time.Duration) bool {
	return s.Active() && now.Sub(s.LastActivity) > timeout
}

// Expired reports whether the session has outlived its requested
// duration, as of now.
func (s *Session) Expired(now time.Time) bool {
	return s.Active() && now.After(s.ExpiresAt)
}

// Duration returns how long the session has been (or was) open.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
