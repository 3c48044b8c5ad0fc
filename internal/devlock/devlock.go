// Package devlock provides per-device mutual exclusion.
//
// Every invariant in the access core (at most one active session, no
// overlapping reservations, legal status transitions only) is scoped to a
// single device. The Arena hands out one mutex per device id so operations
// on different devices never contend, while operations on the same device
// observe a single total order.
//
// Mutexes are created lazily and never reclaimed. The set of device ids is
// bounded by the instrument catalogue, so the map stays small for the life
// of the process.
package devlock

import "sync"

// Arena maps device ids to mutexes. Create with NewArena; the zero value
// is not usable.
type Arena struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewArena creates an empty lock arena.
func NewArena() *Arena {
	return &Arena{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given device id, creating it on first use.
// The returned function releases the lock.
//
// Usage:
//
//	unlock := arena.Lock(deviceID)
//	defer unlock()
func (a *Arena) Lock(deviceID string) func() {
	a.mu.Lock()
	l, ok := a.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[deviceID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Len returns the number of device mutexes currently allocated.
// Exposed for monitoring and tests.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
