package access

import (
	"context"
	"time"

	"github.com/morland-labs/labaccess-core/internal/command"
	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/events"
	"github.com/morland-labs/labaccess-core/internal/reservation"
	"github.com/morland-labs/labaccess-core/internal/session"
)

// touchTimeout bounds the activity refresh triggered by an acknowledged
// command; the hook runs on a dispatcher goroutine with no caller
// context to inherit.
const touchTimeout = 5 * time.Second

// handleStatusChange fans a device status transition out to the event
// bus and telemetry. Runs under the device lock, so it must not call
// back into lock-taking operations.
func (f *Facade) handleStatusChange(deviceID string, from, to device.Status) {
	f.publish(events.TypeDeviceStatusChanged, map[string]any{
		"device_id": deviceID,
		"from":      string(from),
		"to":        string(to),
	})
	if f.metrics != nil {
		f.metrics.WriteStatusTransition(deviceID, string(from), string(to))
	}
}

// handleSessionEnded fans a session closure out to the event bus and
// telemetry. Fires for every closure path: release, idle timeout,
// preemption, device loss.
func (f *Facade) handleSessionEnded(s *session.Session, reason string) {
	f.publish(events.TypeSessionEnded, map[string]any{
		"session_id": s.ID,
		"device_id":  s.DeviceID,
		"holder":     s.Holder,
		"reason":     reason,
	})
	if f.metrics != nil && s.EndedAt != nil {
		f.metrics.WriteSessionClosed(s.DeviceID, s.Holder, reason, s.Duration(*s.EndedAt))
	}
}

// handleCommandResolved fans a command's terminal state out to the
// event bus and telemetry. An acknowledged command also refreshes its
// session's activity timestamp, keeping a busy holder clear of the idle
// timeout.
func (f *Facade) handleCommandResolved(cmd *command.Command) {
	f.publish(events.TypeCommandResolved, map[string]any{
		"command_id": cmd.ID,
		"session_id": cmd.SessionID,
		"device_id":  cmd.DeviceID,
		"status":     string(cmd.Status),
		"detail":     cmd.Detail,
	})

	var latency time.Duration
	if cmd.ResolvedAt != nil {
		latency = cmd.ResolvedAt.Sub(cmd.EnqueuedAt)
	}
	if f.metrics != nil {
		f.metrics.WriteCommandResolved(cmd.DeviceID, string(cmd.Status), latency)
	}

	if cmd.Status == command.StatusAcknowledged {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := f.sessions.Touch(ctx, cmd.SessionID); err != nil {
			f.logger.Debug("refreshing session activity", "session_id", cmd.SessionID, "error", err)
		}
	}
}

// handleReservationChange fans a reservation lifecycle change out to
// the event bus and telemetry.
func (f *Facade) handleReservationChange(r *reservation.Reservation, event string) {
	eventType := map[string]string{
		reservation.EventCreated:         events.TypeReservationCreated,
		reservation.EventActivated:       events.TypeReservationActivated,
		reservation.EventDeferred:        events.TypeReservationDeferred,
		reservation.EventSessionAttached: events.TypeReservationAttached,
		reservation.EventCompleted:       events.TypeReservationCompleted,
		reservation.EventCancelled:       events.TypeReservationCancelled,
	}[event]
	if eventType == "" {
		return
	}

	data := map[string]any{
		"reservation_id": r.ID,
		"device_id":      r.DeviceID,
		"holder":         r.Holder,
		"window_start":   r.WindowStart,
		"window_end":     r.WindowEnd,
	}
	if r.SessionID != nil {
		data["session_id"] = *r.SessionID
	}

	f.publish(eventType, data)
	if f.metrics != nil {
		f.metrics.WriteReservationEvent(r.DeviceID, event)
	}
}
