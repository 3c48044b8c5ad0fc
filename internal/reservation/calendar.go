package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/session"
)

// Logger defines the logging interface used by the Calendar.
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

// SessionControl is the slice of the session manager the calendar needs
// to activate, adopt, and preempt sessions. Satisfied by session.Manager.
type SessionControl interface {
	Create(ctx context.Context, deviceID, holder string, requested time.Duration) (*session.Session, error)
	Active(ctx context.Context, deviceID string) (*session.Session, error)
	EndActiveForDevice(ctx context.Context, deviceID, reason string) error
}

// StatusSource reports device connectivity. Satisfied by device.Registry.
type StatusSource interface {
	GetStatus(ctx context.Context, deviceID string) (device.Status, error)
}

// Calendar manages advance bookings for devices and drives them through
// their lifecycle: pending reservations activate when their window
// opens, active reservations complete when the window closes. A
// reservation activates even when its device is unreachable; the
// session is attached as soon as the device comes back, retried on
// every tick until the window ends.
//
// Incumbent walk-in sessions are given a grace period after the window
// opens before being preempted in favour of the reservation holder.
//
// All public methods are thread-safe. Calendar mutations are serialised
// by a calendar-level mutex; per-device session atomicity belongs to
// the session manager, which must never be called while holding it in
// reverse order.
type Calendar struct {
	repo     Repository
	sessions SessionControl
	statuses StatusSource

	gracePeriod  time.Duration
	tickInterval time.Duration

	logger Logger

	// opMu serialises reservation mutations: overlap-check-then-create
	// in Reserve, and Cancel racing the runner's activation.
	opMu sync.Mutex

	// onChange is invoked after a reservation changes state (optional).
	onChange func(r *Reservation, event string)

	runMu   sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// Change event names passed to the OnReservationChange callback.
const (
	EventCreated   = "created"
	EventActivated = "activated"
	EventCompleted = "completed"
	EventCancelled = "cancelled"

	// EventDeferred reports an activation whose device was not online;
	// the reservation is active but session-less until a later tick.
	EventDeferred = "activation_deferred"

	// EventSessionAttached reports a session opened for a reservation
	// that activated session-less on an earlier tick.
	EventSessionAttached = "session_attached"
)

// NewCalendar creates a reservation calendar.
//
// The grace period governs how long an incumbent session survives past a
// reservation's window start before it is preempted. The tick interval
// governs how often the background runner evaluates due and expired
// windows.
func NewCalendar(repo Repository, sessions SessionControl, statuses StatusSource, gracePeriod, tickInterval time.Duration) *Calendar {
	return &Calendar{
		repo:         repo,
		sessions:     sessions,
		statuses:     statuses,
		gracePeriod:  gracePeriod,
		tickInterval: tickInterval,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the calendar.
func (c *Calendar) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnReservationChange sets a callback invoked after each reservation
// state change. Used by the composition root to fan out events and
// telemetry.
func (c *Calendar) SetOnReservationChange(callback func(r *Reservation, event string)) {
	c.onChange = callback
}

// Reserve books a future window on a device.
//
// The window must be well-formed (start before end) and must not have
// already closed. Overlap with any pending or active reservation for the
// same device returns ErrReservationConflict; windows are half-open, so
// back-to-back bookings sharing a boundary instant are allowed.
func (c *Calendar) Reserve(ctx context.Context, deviceID, holder string, start, end time.Time) (*Reservation, error) {
	if strings.TrimSpace(holder) == "" {
		return nil, ErrInvalidHolder
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must precede end", ErrInvalidWindow)
	}
	if !end.After(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: window has already closed", ErrInvalidWindow)
	}

	// Reject bookings for devices the registry has never seen
	if _, err := c.statuses.GetStatus(ctx, deviceID); err != nil {
		return nil, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	overlapping, err := c.repo.FindOverlapping(ctx, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	if len(overlapping) > 0 {
		return nil, fmt.Errorf("%w: overlaps reservation %s", ErrReservationConflict, overlapping[0].ID)
	}

	r := &Reservation{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		Holder:      holder,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		Status:      StatusPending,
	}

	if err := c.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	c.logger.Info("reservation created",
		"reservation_id", r.ID,
		"device_id", deviceID,
		"holder", holder,
		"window_start", r.WindowStart,
		"window_end", r.WindowEnd,
	)
	c.notify(r, EventCreated)
	return r, nil
}

// Cancel withdraws a reservation whose session is not live.
//
// A reservation that activated and still holds its session cannot be
// cancelled; the holder ends the session first, explicitly, and may
// then cancel. Settled reservations return ErrReservationSettled.
func (c *Calendar) Cancel(ctx context.Context, reservationID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r, err := c.repo.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}

	switch {
	case r.Status == StatusPending:
		// Cancellable
	case r.Status == StatusActive:
		if r.SessionID != nil {
			live, err := c.sessions.Active(ctx, r.DeviceID)
			if err != nil && !errors.Is(err, session.ErrNoActiveSession) {
				return err
			}
			if err == nil && live.ID == *r.SessionID {
				return ErrReservationActive
			}
		}
		// Session-less, or its session already ended; nothing to unwind
	default:
		return ErrReservationSettled
	}

	r.Status = StatusCancelled
	if err := c.repo.Update(ctx, r); err != nil {
		return err
	}

	c.logger.Info("reservation cancelled", "reservation_id", r.ID, "device_id", r.DeviceID)
	c.notify(r, EventCancelled)
	return nil
}

// Get returns a reservation by ID.
func (c *Calendar) Get(ctx context.Context, reservationID string) (*Reservation, error) {
	return c.repo.GetByID(ctx, reservationID)
}

// ListByDevice returns all reservations for a device, earliest first.
func (c *Calendar) ListByDevice(ctx context.Context, deviceID string) ([]Reservation, error) {
	return c.repo.ListByDevice(ctx, deviceID)
}

// Tick evaluates the calendar at the given instant: active reservations
// past their window are completed, and due pending reservations are
// activated where possible.
//
// Each reservation is processed independently; a failure on one device
// is logged and does not block the rest.
func (c *Calendar) Tick(ctx context.Context, now time.Time) {
	now = now.UTC()

	expired, err := c.repo.FindExpired(ctx, now)
	if err != nil {
		c.logger.Error("finding expired reservations", "error", err)
	} else {
		for i := range expired {
			if err := c.complete(ctx, expired[i].ID); err != nil {
				c.logger.Error("completing reservation",
					"reservation_id", expired[i].ID,
					"device_id", expired[i].DeviceID,
					"error", err,
				)
			}
		}
	}

	due, err := c.repo.FindDue(ctx, now)
	if err != nil {
		c.logger.Error("finding due reservations", "error", err)
		return
	}
	for i := range due {
		if err := c.activate(ctx, due[i].ID, now); err != nil {
			c.logger.Error("activating reservation",
				"reservation_id", due[i].ID,
				"device_id", due[i].DeviceID,
				"error", err,
			)
		}
	}

	// Retry session attachment for reservations that activated while
	// their device was unreachable or an incumbent held the grace period
	unattached, err := c.repo.FindUnattached(ctx, now)
	if err != nil {
		c.logger.Error("finding unattached reservations", "error", err)
		return
	}
	for i := range unattached {
		if err := c.reattach(ctx, unattached[i].ID, now); err != nil {
			c.logger.Error("attaching reservation session",
				"reservation_id", unattached[i].ID,
				"device_id", unattached[i].DeviceID,
				"error", err,
			)
		}
	}
}

// complete closes an active reservation whose window has ended, ending
// the linked session if it is still open.
func (c *Calendar) complete(ctx context.Context, reservationID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r, err := c.repo.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != StatusActive {
		return nil
	}

	if r.SessionID != nil {
		active, err := c.sessions.Active(ctx, r.DeviceID)
		switch {
		case err == nil && active.ID == *r.SessionID:
			if err := c.sessions.EndActiveForDevice(ctx, r.DeviceID, session.ReasonReleased); err != nil {
				return fmt.Errorf("ending reservation session: %w", err)
			}
		case err != nil && !errors.Is(err, session.ErrNoActiveSession):
			return err
		}
	}

	r.Status = StatusCompleted
	if err := c.repo.Update(ctx, r); err != nil {
		return err
	}

	c.logger.Info("reservation completed", "reservation_id", r.ID, "device_id", r.DeviceID)
	c.notify(r, EventCompleted)
	return nil
}

// activate drives a due pending reservation to active.
//
// A reservation whose entire window has already passed is completed
// without ever opening a session. Otherwise the reservation becomes
// active at its window start regardless of device state; the session is
// attached in the same pass when possible, or reported as deferred and
// retried on later ticks.
func (c *Calendar) activate(ctx context.Context, reservationID string, now time.Time) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// Re-read: Cancel may have raced the runner
	r, err := c.repo.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		return nil
	}

	// Window fully elapsed before the runner ever saw it
	if !now.Before(r.WindowEnd) {
		r.Status = StatusCompleted
		if err := c.repo.Update(ctx, r); err != nil {
			return err
		}
		c.logger.Warn("reservation window elapsed without activation",
			"reservation_id", r.ID,
			"device_id", r.DeviceID,
		)
		c.notify(r, EventCompleted)
		return nil
	}

	r.Status = StatusActive
	attached, err := c.attach(ctx, r, now)
	if err != nil {
		// Still record the activation; attachment retries next tick
		if updateErr := c.repo.Update(ctx, r); updateErr != nil {
			return updateErr
		}
		c.notify(r, EventActivated)
		return err
	}
	if err := c.repo.Update(ctx, r); err != nil {
		return err
	}

	c.logger.Info("reservation activated",
		"reservation_id", r.ID,
		"device_id", r.DeviceID,
		"attached", attached,
	)
	c.notify(r, EventActivated)
	if !attached {
		c.notify(r, EventDeferred)
	}
	return nil
}

// reattach retries session attachment for an active session-less
// reservation.
func (c *Calendar) reattach(ctx context.Context, reservationID string, now time.Time) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r, err := c.repo.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != StatusActive || r.SessionID != nil {
		return nil
	}

	attached, err := c.attach(ctx, r, now)
	if err != nil {
		return err
	}
	if !attached {
		return nil
	}

	if err := c.repo.Update(ctx, r); err != nil {
		return err
	}
	c.logger.Info("reservation session attached",
		"reservation_id", r.ID,
		"device_id", r.DeviceID,
		"session_id", *r.SessionID,
	)
	c.notify(r, EventSessionAttached)
	return nil
}

// attach tries to open (or adopt) the session for an active
// reservation, setting r.SessionID on success. The device must be
// online; an incumbent session belonging to a different holder is
// preempted only once the grace period past the window start has
// elapsed. Returns false when attachment must wait for a later tick.
// Caller must hold opMu and persists r afterwards.
func (c *Calendar) attach(ctx context.Context, r *Reservation, now time.Time) (bool, error) {
	status, err := c.statuses.GetStatus(ctx, r.DeviceID)
	if err != nil {
		return false, err
	}
	if status != device.StatusOnline {
		c.logger.Debug("deferring session attachment, device not online",
			"reservation_id", r.ID,
			"device_id", r.DeviceID,
			"status", status,
		)
		return false, nil
	}

	incumbent, err := c.sessions.Active(ctx, r.DeviceID)
	switch {
	case err == nil:
		if incumbent.Holder == r.Holder {
			// The holder walked in ahead of their own booking; adopt it
			r.SessionID = &incumbent.ID
			return true, nil
		}
		if now.Before(r.WindowStart.Add(c.gracePeriod)) {
			c.logger.Debug("incumbent session within grace period",
				"reservation_id", r.ID,
				"device_id", r.DeviceID,
				"incumbent", incumbent.Holder,
			)
			return false, nil
		}
		c.logger.Info("preempting incumbent session",
			"reservation_id", r.ID,
			"device_id", r.DeviceID,
			"incumbent", incumbent.Holder,
		)
		if err := c.sessions.EndActiveForDevice(ctx, r.DeviceID, session.ReasonPreempted); err != nil {
			return false, fmt.Errorf("preempting session: %w", err)
		}
	case errors.Is(err, session.ErrNoActiveSession):
		// Device is free
	default:
		return false, err
	}

	// The lease runs to the end of the reserved window
	s, err := c.sessions.Create(ctx, r.DeviceID, r.Holder, r.WindowEnd.Sub(now))
	if err != nil {
		return false, fmt.Errorf("opening reservation session: %w", err)
	}
	r.SessionID = &s.ID
	return true, nil
}

// notify invokes the change callback if one is set.
func (c *Calendar) notify(r *Reservation, event string) {
	if c.onChange != nil {
		cpy := *r
		c.onChange(&cpy, event)
	}
}

// Start launches the background runner that ticks the calendar at the
// configured interval. Calling Start on a running calendar is a no-op.
func (c *Calendar) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.quit = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(ctx, c.quit, c.done)
	c.logger.Info("reservation calendar started", "tick_interval", c.tickInterval)
}

// Stop halts the background runner and waits for it to exit.
func (c *Calendar) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	quit, done := c.quit, c.done
	c.runMu.Unlock()

	close(quit)
	<-done
	c.logger.Info("reservation calendar stopped")
}

// run is the runner loop. An immediate tick on startup catches
// reservations that came due while the core was down.
func (c *Calendar) run(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.Tick(ctx, time.Now())

	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(ctx, now)
		}
	}
}
