// Package reservation manages advance bookings of lab instruments.
//
// A reservation claims a half-open time window [start, end) on a single
// device. Windows for the same device may not overlap while pending or
// active; back-to-back bookings sharing a boundary instant are allowed.
//
// The Calendar's background runner drives reservations through their
// lifecycle. A reservation activates when its window opens whether or
// not the device is reachable. If the device is online, a session is
// created for the reservation holder (or their existing walk-in session
// is adopted); otherwise the reservation runs session-less and the
// attachment is retried on every tick until the window ends. An
// incumbent session belonging to someone else survives for a
// configurable grace period past the window start before being
// preempted. When the window closes, the linked session is ended and
// the reservation completes.
package reservation
