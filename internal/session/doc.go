// Package session manages exclusive control sessions over lab instruments.
//
// A session is the right to send commands to one device for a bounded
// duration. At most one session is open per device at any time;
// competing claims are refused unless the incumbent has outlived its
// requested duration or gone idle past the configured timeout, in which
// case the stale session is force-ended and the device reclaimed in the
// same operation.
//
// Sessions close for voluntary release, duration expiry, idle timeout,
// reservation preemption, or device loss. Closure fails any commands
// still in flight through the wired CommandCloser before the device is
// handed over.
//
// There is no background sweeper; both expiry forms are evaluated
// lazily when a new claim arrives. A quiet session on a quiet device
// costs nothing.
package session
