// Package access is the composition layer and single entry point for
// lab instrument operations: registering devices, starting and ending
// control sessions, dispatching commands, and booking reservations.
//
// The facade owns the cross-wiring between components. Ending a session
// fails its in-flight commands; removing a device is refused while a
// session or unsettled reservation references it; a device dropping
// offline takes its session with it. Every lifecycle change is recorded
// in the audit trail and fanned out to the event bus and telemetry,
// none of which can fail the operation that produced it.
//
// Errors carry a Kind (not found, conflict, invalid state, ...) so an
// API layer can map them to responses without importing every domain
// package; the underlying sentinel stays reachable via errors.Is.
package access
