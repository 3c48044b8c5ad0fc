package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/morland-labs/labaccess-core/internal/command"
	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/reservation"
	"github.com/morland-labs/labaccess-core/internal/session"
)

// Kind categorises facade errors so callers (API layers, CLIs) can map
// them to transport-level responses without importing every domain
// package.
type Kind string

// Error kinds.
const (
	KindInvalid      Kind = "invalid"       // malformed input
	KindNotFound     Kind = "not_found"     // entity does not exist
	KindConflict     Kind = "conflict"      // resource already claimed
	KindInvalidState Kind = "invalid_state" // operation illegal in current state
	KindUnavailable  Kind = "unavailable"   // dependency not reachable
	KindTimeout      Kind = "timeout"       // operation exceeded its deadline
	KindInternal     Kind = "internal"      // everything else
)

// Error wraps a domain error with its kind. The underlying error remains
// reachable through errors.Is and errors.As.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns the error string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a facade error, or KindInternal for
// anything else.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// classify wraps a domain error with its facade kind. nil stays nil.
func classify(err error) error {
	if err == nil {
		return nil
	}

	kind := KindInternal
	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, reservation.ErrReservationNotFound),
		errors.Is(err, command.ErrCommandNotFound):
		kind = KindNotFound

	case errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, session.ErrDeviceNotAvailable),
		errors.Is(err, reservation.ErrReservationConflict):
		kind = KindConflict

	case errors.Is(err, device.ErrInvalidTransition),
		errors.Is(err, device.ErrDeviceInUse),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, reservation.ErrReservationActive),
		errors.Is(err, reservation.ErrReservationSettled),
		errors.Is(err, command.ErrSessionClosed),
		errors.Is(err, command.ErrNotCancellable),
		errors.Is(err, command.ErrAlreadyResolved):
		kind = KindInvalidState

	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidDeviceType),
		errors.Is(err, device.ErrInvalidStatus),
		errors.Is(err, session.ErrInvalidHolder),
		errors.Is(err, reservation.ErrInvalidHolder),
		errors.Is(err, reservation.ErrInvalidWindow),
		errors.Is(err, command.ErrEmptyPayload),
		errors.Is(err, command.ErrPayloadTooLarge):
		kind = KindInvalid

	case errors.Is(err, command.ErrChannelClosed):
		kind = KindUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}

	return &Error{Kind: kind, Err: err}
}
