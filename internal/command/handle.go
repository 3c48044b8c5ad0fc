package command

import (
	"context"
	"sync"
)

// Handle is a one-shot future for a command's terminal outcome.
//
// The dispatcher resolves it exactly once; duplicate acks, a late ack
// after a timeout, or a racing cancel all collapse to the first
// resolution. Callers may Wait from any number of goroutines.
type Handle struct {
	commandID string

	once   sync.Once
	done   chan struct{}
	result Result
}

func newHandle(commandID string) *Handle {
	return &Handle{
		commandID: commandID,
		done:      make(chan struct{}),
	}
}

// CommandID returns the ID of the command this handle tracks.
func (h *Handle) CommandID() string {
	return h.commandID
}

// resolve sets the result. Only the first call has any effect.
func (h *Handle) resolve(result Result) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// Done returns a channel closed when the command reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the command resolves or the context is cancelled.
// Context cancellation abandons the wait, not the command: the command
// still runs to its own timeout or ack.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the terminal outcome. Valid only after Done is closed.
func (h *Handle) Result() Result {
	return h.result
}
