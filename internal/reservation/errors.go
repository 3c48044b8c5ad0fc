package reservation

import "errors"

// Domain errors for the reservation package.
//
// These errors can be checked using errors.Is() for error handling.
var (
	// ErrReservationNotFound is returned when a reservation ID does not exist.
	ErrReservationNotFound = errors.New("reservation: not found")

	// ErrInvalidWindow is returned when a window is empty, inverted, or
	// entirely in the past.
	ErrInvalidWindow = errors.New("reservation: invalid window")

	// ErrReservationConflict is returned when a window overlaps an
	// existing pending or active reservation for the same device.
	ErrReservationConflict = errors.New("reservation: window conflict")

	// ErrReservationActive is returned when cancelling a reservation
	// that has already been activated.
	ErrReservationActive = errors.New("reservation: already active")

	// ErrReservationSettled is returned when cancelling a reservation
	// that is already completed or cancelled.
	ErrReservationSettled = errors.New("reservation: already settled")

	// ErrInvalidHolder is returned when the holder identifier is empty.
	ErrInvalidHolder = errors.New("reservation: invalid holder")
)
