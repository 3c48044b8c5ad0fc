package command

import "errors"

// Domain errors for the command package.
//
// These errors can be checked using errors.Is() for error handling.
var (
	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrEmptyPayload is returned when a command carries no payload.
	ErrEmptyPayload = errors.New("command: empty payload")

	// ErrPayloadTooLarge is returned when a payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("command: payload too large")

	// ErrSessionClosed is returned when sending on a session whose
	// dispatcher has been shut down.
	ErrSessionClosed = errors.New("command: session closed")

	// ErrNotCancellable is returned when cancelling a command that has
	// already reached a terminal state.
	ErrNotCancellable = errors.New("command: not cancellable")

	// ErrAlreadyResolved is returned when resolving a command twice.
	ErrAlreadyResolved = errors.New("command: already resolved")

	// ErrChannelClosed is returned when the channel has been closed.
	ErrChannelClosed = errors.New("command: channel closed")
)
