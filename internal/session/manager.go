package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/devlock"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusSource reports device connectivity. Satisfied by device.Registry.
type StatusSource interface {
	GetStatus(ctx context.Context, deviceID string) (device.Status, error)
}

// CommandCloser fails in-flight commands when their session closes.
// Wired by the composition root to avoid package cycles.
type CommandCloser interface {
	FailPending(ctx context.Context, sessionID, reason string) error
}

// Manager owns the session lifecycle: one open session per device,
// idle-timeout reclamation, and forced closure on preemption or device
// loss.
//
// All public methods are thread-safe. Per-device invariants are held by
// locking the device in the shared arena for the duration of each
// mutating operation.
type Manager struct {
	repo            Repository
	statuses        StatusSource
	locks           *devlock.Arena
	idleTimeout     time.Duration
	defaultDuration time.Duration
	logger          Logger

	closer CommandCloser

	// onSessionEnded is invoked after a session closes (optional).
	onSessionEnded func(s *Session, reason string)
}

// NewManager creates a session manager.
//
// The idle timeout governs when a competing Create may reclaim a device
// whose session has gone quiet; the default duration bounds leases whose
// requesters did not ask for one. Both forms of expiry are evaluated
// lazily on the create path rather than by a background sweeper.
func NewManager(repo Repository, statuses StatusSource, locks *devlock.Arena, idleTimeout, defaultDuration time.Duration) *Manager {
	return &Manager{
		repo:            repo,
		statuses:        statuses,
		locks:           locks,
		idleTimeout:     idleTimeout,
		defaultDuration: defaultDuration,
		logger:          noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetCommandCloser wires the hook that fails in-flight commands when a
// session ends.
func (m *Manager) SetCommandCloser(closer CommandCloser) {
	m.closer = closer
}

// SetOnSessionEnded sets a callback invoked after each session closure.
// Used by the composition root to fan out events and telemetry.
func (m *Manager) SetOnSessionEnded(callback func(s *Session, reason string)) {
	m.onSessionEnded = callback
}

// Create opens a session giving holder exclusive control of the device
// for the requested duration. A zero duration selects the configured
// default.
//
// The device must be online. If the device already has a live session
// Create returns ErrDeviceNotAvailable; if that session has outlived
// its requested duration or gone quiet past the idle timeout it is
// force-ended with the matching reason and the new session takes over
// atomically.
func (m *Manager) Create(ctx context.Context, deviceID, holder string, requested time.Duration) (*Session, error) {
	if strings.TrimSpace(holder) == "" {
		return nil, ErrInvalidHolder
	}
	if requested <= 0 {
		requested = m.defaultDuration
	}

	unlock := m.locks.Lock(deviceID)
	defer unlock()

	status, err := m.statuses.GetStatus(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if status != device.StatusOnline {
		return nil, fmt.Errorf("%w: device is %s", ErrDeviceNotAvailable, status)
	}

	now := time.Now().UTC()

	existing, err := m.repo.FindActiveByDevice(ctx, deviceID)
	switch {
	case err == nil:
		var reason string
		switch {
		case existing.Expired(now):
			reason = ReasonExpired
		case existing.IdleExpired(now, m.idleTimeout):
			reason = ReasonIdleTimeout
		default:
			return nil, fmt.Errorf("%w: held by %s", ErrDeviceNotAvailable, existing.Holder)
		}
		// Stale incumbent: reclaim the device
		if err := m.end(ctx, existing, reason); err != nil {
			return nil, fmt.Errorf("reclaiming %s session: %w", reason, err)
		}
	case errors.Is(err, ErrNoActiveSession):
		// Device is free
	default:
		return nil, err
	}

	s := &Session{
		ID:           uuid.New().String(),
		DeviceID:     deviceID,
		Holder:       holder,
		StartedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(requested),
	}

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info("session started",
		"session_id", s.ID,
		"device_id", deviceID,
		"holder", holder,
		"expires_at", s.ExpiresAt,
	)
	return s, nil
}

// End closes a session voluntarily.
// Returns ErrSessionEnded if it is already closed.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	return m.EndWithReason(ctx, sessionID, ReasonReleased)
}

// EndWithReason closes a session recording the given reason.
func (m *Manager) EndWithReason(ctx context.Context, sessionID, reason string) error {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(s.DeviceID)
	defer unlock()

	// Re-read under the lock: a racing End may have closed it already
	s, err = m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.Active() {
		return ErrSessionEnded
	}

	return m.end(ctx, s, reason)
}

// EndActiveForDevice closes whatever session currently holds the device.
// Returns ErrNoActiveSession when the device is free. Used by the
// reservation calendar for preemption and by device-loss handling.
func (m *Manager) EndActiveForDevice(ctx context.Context, deviceID, reason string) error {
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	s, err := m.repo.FindActiveByDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	return m.end(ctx, s, reason)
}

// end closes the session. Caller must hold the device lock.
func (m *Manager) end(ctx context.Context, s *Session, reason string) error {
	now := time.Now().UTC()
	s.EndedAt = &now
	s.EndReason = reason

	if err := m.repo.Update(ctx, s); err != nil {
		return err
	}

	// Fail any commands still in flight before handing the device over
	if m.closer != nil {
		if err := m.closer.FailPending(ctx, s.ID, reason); err != nil {
			m.logger.Warn("failing pending commands", "session_id", s.ID, "error", err)
		}
	}

	m.logger.Info("session ended",
		"session_id", s.ID,
		"device_id", s.DeviceID,
		"reason", reason,
		"duration", s.Duration(now),
	)

	if m.onSessionEnded != nil {
		m.onSessionEnded(s, reason)
	}
	return nil
}

// Active returns the open session for a device.
// Returns ErrNoActiveSession when the device is free.
func (m *Manager) Active(ctx context.Context, deviceID string) (*Session, error) {
	return m.repo.FindActiveByDevice(ctx, deviceID)
}

// Get returns a session by ID.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.repo.GetByID(ctx, sessionID)
}

// ListActive returns all open sessions.
func (m *Manager) ListActive(ctx context.Context) ([]Session, error) {
	return m.repo.ListActive(ctx)
}

// Touch refreshes a session's activity timestamp. Called when a command
// on the session is acknowledged.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(s.DeviceID)
	defer unlock()

	s, err = m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.Active() {
		return ErrSessionEnded
	}

	s.LastActivity = time.Now().UTC()
	return m.repo.Update(ctx, s)
}
