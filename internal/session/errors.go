package session

import "errors"

// Domain errors for the session package.
//
// These errors can be checked using errors.Is() for error handling.
var (
	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrDeviceNotAvailable is returned when creating a session on a
	// device that is not online or already held by a live session.
	ErrDeviceNotAvailable = errors.New("session: device not available")

	// ErrSessionEnded is returned when operating on a session that has
	// already been ended.
	ErrSessionEnded = errors.New("session: already ended")

	// ErrNoActiveSession is returned when a device has no open session.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrInvalidHolder is returned when the holder identifier is empty.
	ErrInvalidHolder = errors.New("session: invalid holder")
)
