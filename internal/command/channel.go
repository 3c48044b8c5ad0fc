package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatch constants.
const (
	// retryDelay is the pause between transport retries.
	retryDelay = 250 * time.Millisecond

	// queueDepth is the per-session buffer of commands awaiting dispatch.
	queueDepth = 64
)

// inflight states.
const (
	stateQueued = iota
	stateSent
	stateResolved
)

// inflight tracks one command from enqueue to resolution.
type inflight struct {
	cmd     *Command
	handle  *Handle
	timeout time.Duration
	retries int

	mu    sync.Mutex
	state int
}

// dispatcher serialises command delivery for one session.
type dispatcher struct {
	sessionID   string
	queue       chan *inflight
	quit        chan struct{}
	done        chan struct{}
	closeReason string // set before closing quit
}

// Channel dispatches commands to devices and tracks their outcomes.
//
// Commands within a session are delivered strictly in enqueue order by
// a per-session dispatcher goroutine; commands on different sessions do
// not affect each other. Each command resolves to exactly one terminal
// state: acknowledged, failed, or timed_out.
//
// All public methods are thread-safe.
type Channel struct {
	repo           Repository
	transport      Transport
	defaultTimeout time.Duration
	maxPayload     int
	logger         Logger

	mu          sync.Mutex
	dispatchers map[string]*dispatcher // by session ID
	pending     map[string]*inflight   // by command ID, until resolved
	acks        map[string]chan Ack    // by command ID, while awaiting ack
	closed      bool

	// onResolved is invoked after a command reaches a terminal state (optional).
	onResolved func(cmd *Command)
}

// NewChannel creates a command channel.
//
// defaultTimeout applies when Send is called with a zero timeout;
// maxPayload bounds the opaque payload size in bytes.
func NewChannel(repo Repository, transport Transport, defaultTimeout time.Duration, maxPayload int) *Channel {
	return &Channel{
		repo:           repo,
		transport:      transport,
		defaultTimeout: defaultTimeout,
		maxPayload:     maxPayload,
		logger:         noopLogger{},
		dispatchers:    make(map[string]*dispatcher),
		pending:        make(map[string]*inflight),
		acks:           make(map[string]chan Ack),
	}
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnResolved sets a callback invoked after each command resolution.
// Used by the composition root to fan out events, telemetry, and
// session activity updates.
func (c *Channel) SetOnResolved(callback func(cmd *Command)) {
	c.onResolved = callback
}

// Send enqueues a command for the given session and device.
//
// The returned handle resolves when the command reaches a terminal
// state. A zero timeout selects the configured default. Enqueue order
// within a session is delivery order.
//
// retries is the delivery retry budget: how many times a transient
// transport failure may be retried before the command fails. Zero means
// a single delivery attempt; retrying is strictly opt-in.
func (c *Channel) Send(ctx context.Context, sessionID, deviceID string, payload []byte, timeout time.Duration, retries int) (*Handle, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > c.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(payload), c.maxPayload)
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if retries < 0 {
		retries = 0
	}

	cmd := &Command{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Payload:    payload,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := c.repo.Create(ctx, cmd); err != nil {
		return nil, err
	}

	infl := &inflight{
		cmd:     cmd,
		handle:  newHandle(cmd.ID),
		timeout: timeout,
		retries: retries,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.finalise(infl, StatusFailed, "channel closed")
		return nil, ErrChannelClosed
	}
	d, ok := c.dispatchers[sessionID]
	if !ok {
		d = &dispatcher{
			sessionID: sessionID,
			queue:     make(chan *inflight, queueDepth),
			quit:      make(chan struct{}),
			done:      make(chan struct{}),
		}
		c.dispatchers[sessionID] = d
		go c.runDispatcher(d)
	}
	c.pending[cmd.ID] = infl
	c.mu.Unlock()

	select {
	case d.queue <- infl:
	case <-d.quit:
		c.finalise(infl, StatusFailed, d.closeReason)
		return nil, ErrSessionClosed
	}

	// The session may have been torn down between the enqueue and the
	// dispatcher's final drain poll, leaving the command in a queue
	// nothing reads. Re-check membership; if the dispatcher is gone,
	// wait for it to exit and resolve whatever it did not pick up.
	c.mu.Lock()
	gone := c.dispatchers[sessionID] != d
	c.mu.Unlock()
	if gone {
		<-d.done
		c.resolveLocked(infl, StatusFailed, d.closeReason)
		return infl.handle, nil
	}

	c.logger.Debug("command queued", "command_id", cmd.ID, "session_id", sessionID, "device_id", deviceID)
	return infl.handle, nil
}

// Cancel withdraws a command that has not yet resolved. Legal while
// queued or sent; returns ErrNotCancellable once the command reached a
// terminal state. A cancelled command fails with detail "cancelled" and
// any ack arriving afterwards is dropped.
func (c *Channel) Cancel(_ context.Context, commandID string) error {
	c.mu.Lock()
	infl, ok := c.pending[commandID]
	c.mu.Unlock()
	if !ok {
		return ErrCommandNotFound
	}

	infl.mu.Lock()
	if infl.state == stateResolved {
		infl.mu.Unlock()
		return ErrNotCancellable
	}
	infl.state = stateResolved
	infl.mu.Unlock()

	c.finalise(infl, StatusFailed, "cancelled")
	c.logger.Info("command cancelled", "command_id", commandID)
	return nil
}

// FailPending shuts down the session's dispatcher and fails every
// command still in flight with the given reason. Implements the hook
// invoked when a session ends.
func (c *Channel) FailPending(_ context.Context, sessionID, reason string) error {
	c.mu.Lock()
	d, ok := c.dispatchers[sessionID]
	if ok {
		delete(c.dispatchers, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	d.closeReason = "session ended: " + reason
	close(d.quit)
	<-d.done
	return nil
}

// HandleAck routes a device acknowledgment to the waiting dispatcher.
// Unknown or late acks are dropped; the command already resolved.
func (c *Channel) HandleAck(ack Ack) {
	c.mu.Lock()
	ch, ok := c.acks[ack.CommandID]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping ack for unknown command", "command_id", ack.CommandID)
		return
	}

	select {
	case ch <- ack:
	default:
		// Buffer already holds an ack; duplicates are dropped
	}
}

// AckHandler returns a message handler suitable for subscribing to the
// device ack topic pattern.
func (c *Channel) AckHandler() func(topic string, payload []byte) error {
	return func(_ string, payload []byte) error {
		ack, err := ParseAck(payload)
		if err != nil {
			return err
		}
		c.HandleAck(ack)
		return nil
	}
}

// Get retrieves a command's persisted record.
func (c *Channel) Get(ctx context.Context, commandID string) (*Command, error) {
	return c.repo.GetByID(ctx, commandID)
}

// ListBySession retrieves a session's command history, oldest first.
func (c *Channel) ListBySession(ctx context.Context, sessionID string) ([]Command, error) {
	return c.repo.ListBySession(ctx, sessionID)
}

// Close shuts down all dispatchers, failing outstanding commands.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dispatchers := make([]*dispatcher, 0, len(c.dispatchers))
	for _, d := range c.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	c.dispatchers = make(map[string]*dispatcher)
	c.mu.Unlock()

	for _, d := range dispatchers {
		d.closeReason = "shutdown"
		close(d.quit)
		<-d.done
	}
	return nil
}

// runDispatcher delivers one session's commands in FIFO order.
func (c *Channel) runDispatcher(d *dispatcher) {
	defer close(d.done)

	for {
		select {
		case <-d.quit:
			c.drain(d)
			return
		case infl := <-d.queue:
			c.process(d, infl)
		}
	}
}

// drain fails everything left in the queue after shutdown.
func (c *Channel) drain(d *dispatcher) {
	for {
		select {
		case infl := <-d.queue:
			infl.mu.Lock()
			if infl.state == stateResolved {
				infl.mu.Unlock()
				continue
			}
			infl.state = stateResolved
			infl.mu.Unlock()
			c.finalise(infl, StatusFailed, d.closeReason)
		default:
			return
		}
	}
}

// process delivers a single command and waits for its outcome.
func (c *Channel) process(d *dispatcher, infl *inflight) {
	infl.mu.Lock()
	if infl.state == stateResolved {
		// Cancelled while queued
		infl.mu.Unlock()
		return
	}
	infl.state = stateSent
	infl.mu.Unlock()

	cmd := infl.cmd
	ctx := context.Background()

	// Register for the ack before sending so a fast reply is not lost
	ackCh := make(chan Ack, 1)
	c.mu.Lock()
	c.acks[cmd.ID] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, cmd.ID)
		c.mu.Unlock()
	}()

	var sendErr error
	attempts := infl.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		cmd.Attempts = attempt
		sendErr = c.transport.Send(ctx, cmd.DeviceID, cmd.ID, cmd.Payload)
		if sendErr == nil {
			break
		}
		c.logger.Warn("command send failed",
			"command_id", cmd.ID,
			"attempt", attempt,
			"error", sendErr,
		)
		if attempt < attempts {
			select {
			case <-time.After(retryDelay):
			case <-d.quit:
				c.resolveLocked(infl, StatusFailed, d.closeReason)
				return
			}
		}
	}
	if sendErr != nil {
		c.resolveLocked(infl, StatusFailed, fmt.Sprintf("transport: %v", sendErr))
		return
	}

	cmd.Status = StatusSent
	if err := c.repo.Update(ctx, cmd); err != nil {
		c.logger.Error("persisting sent status", "command_id", cmd.ID, "error", err)
	}

	timer := time.NewTimer(infl.timeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		if ack.OK {
			c.resolveLocked(infl, StatusAcknowledged, ack.Detail)
		} else {
			c.resolveLocked(infl, StatusFailed, ack.Detail)
		}
	case <-timer.C:
		c.resolveLocked(infl, StatusTimedOut, fmt.Sprintf("no acknowledgment within %v", infl.timeout))
	case <-infl.handle.Done():
		// Cancelled mid-flight; already finalised, stop waiting
	case <-d.quit:
		c.resolveLocked(infl, StatusFailed, d.closeReason)
	}
}

// resolveLocked marks the inflight resolved then finalises it.
func (c *Channel) resolveLocked(infl *inflight, status Status, detail string) {
	infl.mu.Lock()
	if infl.state == stateResolved {
		infl.mu.Unlock()
		return
	}
	infl.state = stateResolved
	infl.mu.Unlock()

	c.finalise(infl, status, detail)
}

// finalise persists the terminal state, resolves the handle, and fans out.
func (c *Channel) finalise(infl *inflight, status Status, detail string) {
	cmd := infl.cmd
	now := time.Now().UTC()
	cmd.Status = status
	cmd.Detail = detail
	cmd.ResolvedAt = &now

	if err := c.repo.Update(context.Background(), cmd); err != nil {
		c.logger.Error("persisting command resolution", "command_id", cmd.ID, "error", err)
	}

	c.mu.Lock()
	delete(c.pending, cmd.ID)
	c.mu.Unlock()

	infl.handle.resolve(Result{Status: status, Detail: detail})

	c.logger.Debug("command resolved",
		"command_id", cmd.ID,
		"status", status,
		"latency", now.Sub(cmd.EnqueuedAt),
	)

	if c.onResolved != nil {
		c.onResolved(cmd)
	}
}
