// Package command dispatches instructions to lab instruments and tracks
// their outcomes.
//
// Each session gets its own dispatcher goroutine delivering commands in
// strict enqueue order, so a slow instrument never reorders a holder's
// work and never delays other sessions. A command settles in exactly one
// terminal state:
//
//	acknowledged - the device adapter confirmed execution
//	failed       - the adapter refused it, transport gave up, the queue
//	               was cancelled, or the session ended
//	timed_out    - no acknowledgment arrived within the timeout
//
// Senders hold a Handle, a one-shot future resolved by the dispatcher.
// Late or duplicate acknowledgments after resolution are dropped.
//
// Transport is pluggable; the production implementation publishes JSON
// envelopes over MQTT and consumes acks from the device ack topics.
package command
