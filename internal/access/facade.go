package access

import (
	"context"
	"errors"
	"time"

	"github.com/morland-labs/labaccess-core/internal/audit"
	"github.com/morland-labs/labaccess-core/internal/command"
	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/events"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/telemetry"
	"github.com/morland-labs/labaccess-core/internal/reservation"
	"github.com/morland-labs/labaccess-core/internal/session"
)

// Logger defines the logging interface used by the Facade.
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

// Audit operation names recorded by the facade.
const (
	opRegisterDevice    = "register_device"
	opRemoveDevice      = "remove_device"
	opTransitionDevice  = "transition_device"
	opStartSession      = "start_session"
	opEndSession        = "end_session"
	opSendCommand       = "send_command"
	opCancelCommand     = "cancel_command"
	opReserve           = "reserve"
	opCancelReservation = "cancel_reservation"
)

// Facade is the single entry point for lab access operations. It
// composes the device registry, session manager, command channel, and
// reservation calendar, cross-wires their callbacks, and fans lifecycle
// changes out to the audit trail, the event bus, and telemetry.
//
// Errors returned by facade operations carry a Kind; see KindOf.
type Facade struct {
	registry *device.Registry
	sessions *session.Manager
	channel  *command.Channel
	calendar *reservation.Calendar

	trail   audit.Repository
	bus     events.Publisher
	metrics *telemetry.Client
	logger  Logger
}

// NewFacade composes the core components and installs the hooks between
// them: the session manager fails in-flight commands on closure, the
// registry consults live sessions and reservations before removal, and
// every lifecycle change is fanned out to the event bus and telemetry.
func NewFacade(registry *device.Registry, sessions *session.Manager, channel *command.Channel, calendar *reservation.Calendar) *Facade {
	f := &Facade{
		registry: registry,
		sessions: sessions,
		channel:  channel,
		calendar: calendar,
		bus:      events.NoopPublisher{},
		logger:   noopLogger{},
	}

	registry.SetReferenceChecker(f)
	registry.SetOnStatusChange(f.handleStatusChange)
	sessions.SetCommandCloser(channel)
	sessions.SetOnSessionEnded(f.handleSessionEnded)
	channel.SetOnResolved(f.handleCommandResolved)
	calendar.SetOnReservationChange(f.handleReservationChange)

	return f
}

// SetLogger sets the logger for the facade.
func (f *Facade) SetLogger(logger Logger) {
	f.logger = logger
}

// SetAuditTrail wires the audit repository. Without one, operations are
// not recorded.
func (f *Facade) SetAuditTrail(trail audit.Repository) {
	f.trail = trail
}

// SetEventPublisher wires the event bus publisher.
func (f *Facade) SetEventPublisher(bus events.Publisher) {
	f.bus = bus
}

// SetTelemetry wires the telemetry client.
func (f *Facade) SetTelemetry(metrics *telemetry.Client) {
	f.metrics = metrics
}

// --- Devices ---

// RegisterDevice adds a new device to the registry.
func (f *Facade) RegisterDevice(ctx context.Context, d *device.Device) error {
	if err := f.registry.Register(ctx, d); err != nil {
		return classify(err)
	}

	f.record(ctx, opRegisterDevice, "device", d.ID, "", map[string]any{
		"name": d.Name,
		"type": string(d.Type),
	})
	f.publish(events.TypeDeviceRegistered, map[string]any{
		"device_id": d.ID,
		"name":      d.Name,
		"type":      string(d.Type),
	})
	return nil
}

// UpdateDevice updates a device's name, type, and metadata.
func (f *Facade) UpdateDevice(ctx context.Context, d *device.Device) error {
	return classify(f.registry.UpdateDevice(ctx, d))
}

// RemoveDevice deletes a device. Removal is refused while the device has
// an open session or unsettled reservations.
func (f *Facade) RemoveDevice(ctx context.Context, deviceID string) error {
	if err := f.registry.Remove(ctx, deviceID); err != nil {
		return classify(err)
	}

	f.record(ctx, opRemoveDevice, "device", deviceID, "", nil)
	f.publish(events.TypeDeviceRemoved, map[string]any{"device_id": deviceID})
	return nil
}

// TransitionDevice moves a device to a new connectivity status.
//
// A device leaving online for offline or error takes its session with
// it: whoever held it is ended with the device-lost reason.
func (f *Facade) TransitionDevice(ctx context.Context, deviceID string, to device.Status) error {
	if err := f.registry.Transition(ctx, deviceID, to); err != nil {
		return classify(err)
	}

	if to == device.StatusOffline || to == device.StatusError {
		err := f.sessions.EndActiveForDevice(ctx, deviceID, session.ReasonDeviceLost)
		if err != nil && !errors.Is(err, session.ErrNoActiveSession) {
			f.logger.Error("ending session for lost device", "device_id", deviceID, "error", err)
		}
	}

	f.record(ctx, opTransitionDevice, "device", deviceID, "", map[string]any{
		"to": string(to),
	})
	return nil
}

// GetDevice retrieves a device by ID.
func (f *Facade) GetDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	d, err := f.registry.GetDevice(ctx, deviceID)
	return d, classify(err)
}

// ListDevices retrieves all devices.
func (f *Facade) ListDevices(ctx context.Context) ([]device.Device, error) {
	devices, err := f.registry.ListDevices(ctx)
	return devices, classify(err)
}

// DevicesByStatus retrieves all devices in a given status.
func (f *Facade) DevicesByStatus(ctx context.Context, status device.Status) ([]device.Device, error) {
	devices, err := f.registry.GetDevicesByStatus(ctx, status)
	return devices, classify(err)
}

// DevicesByType retrieves all devices of a given type.
func (f *Facade) DevicesByType(ctx context.Context, deviceType device.DeviceType) ([]device.Device, error) {
	devices, err := f.registry.GetDevicesByType(ctx, deviceType)
	return devices, classify(err)
}

// DeviceStats returns registry statistics.
func (f *Facade) DeviceStats() device.Stats {
	return f.registry.GetStats()
}

// --- Sessions ---

// StartSession gives holder exclusive control of an online device for
// the requested duration. A zero duration uses the configured default.
func (f *Facade) StartSession(ctx context.Context, deviceID, holder string, duration time.Duration) (*session.Session, error) {
	s, err := f.sessions.Create(ctx, deviceID, holder, duration)
	if err != nil {
		return nil, classify(err)
	}

	f.record(ctx, opStartSession, "session", s.ID, holder, map[string]any{
		"device_id":  deviceID,
		"expires_at": s.ExpiresAt,
	})
	f.publish(events.TypeSessionStarted, map[string]any{
		"session_id": s.ID,
		"device_id":  deviceID,
		"holder":     holder,
		"expires_at": s.ExpiresAt,
	})
	return s, nil
}

// EndSession releases a session voluntarily.
func (f *Facade) EndSession(ctx context.Context, sessionID string) error {
	s, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return classify(err)
	}

	if err := f.sessions.End(ctx, sessionID); err != nil {
		return classify(err)
	}

	f.record(ctx, opEndSession, "session", sessionID, s.Holder, nil)
	return nil
}

// GetSession returns a session by ID.
func (f *Facade) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := f.sessions.Get(ctx, sessionID)
	return s, classify(err)
}

// ActiveSession returns the open session for a device.
func (f *Facade) ActiveSession(ctx context.Context, deviceID string) (*session.Session, error) {
	s, err := f.sessions.Active(ctx, deviceID)
	return s, classify(err)
}

// ListActiveSessions returns all open sessions.
func (f *Facade) ListActiveSessions(ctx context.Context) ([]session.Session, error) {
	sessions, err := f.sessions.ListActive(ctx)
	return sessions, classify(err)
}

// --- Commands ---

// SendCommand dispatches a payload to the device held by the session.
// The returned handle resolves when the command reaches a terminal
// state. A zero timeout uses the channel default; retries is the
// caller's budget for redelivering after transient transport failures,
// zero meaning a single attempt.
func (f *Facade) SendCommand(ctx context.Context, sessionID string, payload []byte, timeout time.Duration, retries int) (*command.Handle, error) {
	s, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	if !s.Active() {
		return nil, classify(command.ErrSessionClosed)
	}

	h, err := f.channel.Send(ctx, s.ID, s.DeviceID, payload, timeout, retries)
	if err != nil {
		return nil, classify(err)
	}

	f.record(ctx, opSendCommand, "command", h.CommandID(), s.Holder, map[string]any{
		"session_id": s.ID,
		"device_id":  s.DeviceID,
		"bytes":      len(payload),
	})
	return h, nil
}

// CancelCommand withdraws a command that is still queued.
func (f *Facade) CancelCommand(ctx context.Context, commandID string) error {
	if err := f.channel.Cancel(ctx, commandID); err != nil {
		return classify(err)
	}

	f.record(ctx, opCancelCommand, "command", commandID, "", nil)
	return nil
}

// GetCommand returns a command by ID.
func (f *Facade) GetCommand(ctx context.Context, commandID string) (*command.Command, error) {
	cmd, err := f.channel.Get(ctx, commandID)
	return cmd, classify(err)
}

// ListSessionCommands returns a session's commands in enqueue order.
func (f *Facade) ListSessionCommands(ctx context.Context, sessionID string) ([]command.Command, error) {
	cmds, err := f.channel.ListBySession(ctx, sessionID)
	return cmds, classify(err)
}

// --- Reservations ---

// Reserve books a future window on a device for holder.
func (f *Facade) Reserve(ctx context.Context, deviceID, holder string, start, end time.Time) (*reservation.Reservation, error) {
	r, err := f.calendar.Reserve(ctx, deviceID, holder, start, end)
	if err != nil {
		return nil, classify(err)
	}

	f.record(ctx, opReserve, "reservation", r.ID, holder, map[string]any{
		"device_id":    deviceID,
		"window_start": r.WindowStart,
		"window_end":   r.WindowEnd,
	})
	return r, nil
}

// CancelReservation withdraws a reservation with no live session.
// While a session opened from the reservation is still running the call
// fails; end the session first, then cancel.
func (f *Facade) CancelReservation(ctx context.Context, reservationID string) error {
	r, err := f.calendar.Get(ctx, reservationID)
	if err != nil {
		return classify(err)
	}

	if err := f.calendar.Cancel(ctx, reservationID); err != nil {
		return classify(err)
	}

	f.record(ctx, opCancelReservation, "reservation", reservationID, r.Holder, nil)
	return nil
}

// GetReservation returns a reservation by ID.
func (f *Facade) GetReservation(ctx context.Context, reservationID string) (*reservation.Reservation, error) {
	r, err := f.calendar.Get(ctx, reservationID)
	return r, classify(err)
}

// ListDeviceReservations returns all reservations for a device.
func (f *Facade) ListDeviceReservations(ctx context.Context, deviceID string) ([]reservation.Reservation, error) {
	reservations, err := f.calendar.ListByDevice(ctx, deviceID)
	return reservations, classify(err)
}

// --- Audit ---

// AuditTrail returns audit logs matching the filter.
func (f *Facade) AuditTrail(ctx context.Context, filter audit.Filter) (*audit.ListResult, error) {
	if f.trail == nil {
		return &audit.ListResult{Logs: []audit.AuditLog{}}, nil
	}
	result, err := f.trail.List(ctx, filter)
	return result, classify(err)
}

// HasActiveReferences reports whether a device is held by an open
// session or booked by unsettled reservations. Consulted by the
// registry before removal.
func (f *Facade) HasActiveReferences(ctx context.Context, deviceID string) (bool, error) {
	_, err := f.sessions.Active(ctx, deviceID)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, session.ErrNoActiveSession):
		return false, err
	}

	reservations, err := f.calendar.ListByDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	for i := range reservations {
		if !reservations[i].Status.Settled() {
			return true, nil
		}
	}
	return false, nil
}

// record writes an audit entry. Best-effort: failures are logged, never
// surfaced to the caller.
func (f *Facade) record(ctx context.Context, operation, entityType, entityID, holder string, details map[string]any) {
	if f.trail == nil {
		return
	}
	err := f.trail.Create(ctx, &audit.AuditLog{
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
		Holder:     holder,
		Details:    details,
	})
	if err != nil {
		f.logger.Warn("writing audit log", "operation", operation, "error", err)
	}
}

// publish emits a lifecycle event. Best-effort.
func (f *Facade) publish(eventType string, data map[string]any) {
	err := f.bus.Publish(events.Event{Type: eventType, Data: data})
	if err != nil {
		f.logger.Warn("publishing event", "type", eventType, "error", err)
	}
}
