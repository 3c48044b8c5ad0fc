package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu       sync.Mutex
	commands map[string]*Command
}

func NewMockRepository() *MockRepository {
	return &MockRepository{commands: make(map[string]*Command)}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.commands[id]; ok {
		cpy := *c
		return &cpy, nil
	}
	return nil, ErrCommandNotFound
}

func (m *MockRepository) ListBySession(_ context.Context, sessionID string) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var commands []Command
	for _, c := range m.commands {
		if c.SessionID == sessionID {
			commands = append(commands, *c)
		}
	}
	return commands, nil
}

func (m *MockRepository) Create(_ context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cpy := *cmd
	m.commands[cmd.ID] = &cpy
	return nil
}

func (m *MockRepository) Update(_ context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.commands[cmd.ID]; !ok {
		return ErrCommandNotFound
	}
	cpy := *cmd
	m.commands[cmd.ID] = &cpy
	return nil
}

// mockTransport records sends and can block, fail, or auto-ack.
type mockTransport struct {
	mu      sync.Mutex
	sends   []string
	sendErr error

	channel *Channel
	autoAck bool

	started chan string   // receives command ID when Send begins
	release chan struct{} // if non-nil, Send blocks until closed
}

func (t *mockTransport) Send(_ context.Context, _ string, commandID string, _ []byte) error {
	if t.started != nil {
		t.started <- commandID
	}
	if t.release != nil {
		<-t.release
	}

	t.mu.Lock()
	t.sends = append(t.sends, commandID)
	err := t.sendErr
	channel := t.channel
	autoAck := t.autoAck
	t.mu.Unlock()

	if err != nil {
		return err
	}
	if autoAck && channel != nil {
		go channel.HandleAck(Ack{CommandID: commandID, OK: true})
	}
	return nil
}

func (t *mockTransport) sentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sends...)
}

func newTestChannel(transport *mockTransport, timeout time.Duration) (*Channel, *MockRepository) {
	repo := NewMockRepository()
	ch := NewChannel(repo, transport, timeout, 1024)
	transport.channel = ch
	return ch, repo
}

func TestSend_Acknowledged(t *testing.T) {
	transport := &mockTransport{autoAck: true}
	ch, repo := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"action":"capture"}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusAcknowledged {
		t.Errorf("result status = %q, want %q", result.Status, StatusAcknowledged)
	}

	stored, _ := repo.GetByID(ctx, handle.CommandID())
	if stored.Status != StatusAcknowledged {
		t.Errorf("persisted status = %q, want %q", stored.Status, StatusAcknowledged)
	}
	if stored.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
}

func TestSend_NegativeAck(t *testing.T) {
	transport := &mockTransport{}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"action":"zap"}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	// Wait for the command to reach the device before acking
	deadline := time.Now().Add(time.Second)
	for len(transport.sentIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ch.HandleAck(Ack{CommandID: handle.CommandID(), OK: false, Detail: "unsupported action"})

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("result status = %q, want %q", result.Status, StatusFailed)
	}
	if result.Detail != "unsupported action" {
		t.Errorf("result detail = %q, want %q", result.Detail, "unsupported action")
	}
}

func TestSend_Timeout(t *testing.T) {
	transport := &mockTransport{}
	ch, _ := newTestChannel(transport, 50*time.Millisecond)
	defer ch.Close()
	ctx := context.Background()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"action":"read"}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Errorf("result status = %q, want %q", result.Status, StatusTimedOut)
	}

	// A late ack must not disturb the terminal state
	ch.HandleAck(Ack{CommandID: handle.CommandID(), OK: true})
	time.Sleep(20 * time.Millisecond)
	if handle.Result().Status != StatusTimedOut {
		t.Errorf("late ack changed result to %q", handle.Result().Status)
	}
}

func TestSend_FIFOWithinSession(t *testing.T) {
	transport := &mockTransport{autoAck: true}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0)
		if err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}

	sent := transport.sentIDs()
	if len(sent) != 5 {
		t.Fatalf("sent %d commands, want 5", len(sent))
	}
	for i, h := range handles {
		if sent[i] != h.CommandID() {
			t.Errorf("send order[%d] = %s, want %s", i, sent[i], h.CommandID())
		}
	}
}

func TestSend_PayloadValidation(t *testing.T) {
	transport := &mockTransport{}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	if _, err := ch.Send(ctx, "sess-1", "scope-01", nil, 0, 0); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Send(nil) error = %v, want ErrEmptyPayload", err)
	}

	big := make([]byte, 2048) // channel limit is 1024 in tests
	if _, err := ch.Send(ctx, "sess-1", "scope-01", big, 0, 0); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Send(oversized) error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSend_NoRetryByDefault(t *testing.T) {
	transport := &mockTransport{sendErr: errors.New("broker unreachable")}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"x":1}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("result status = %q, want %q", result.Status, StatusFailed)
	}

	// Without a retry budget the transport is tried exactly once
	if got := len(transport.sentIDs()); got != 1 {
		t.Errorf("send attempts = %d, want 1", got)
	}
}

func TestSend_RetryBudgetExhausted(t *testing.T) {
	transport := &mockTransport{sendErr: errors.New("broker unreachable")}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"x":1}`), 0, 2)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("result status = %q, want %q", result.Status, StatusFailed)
	}

	// One initial attempt plus the two-retry budget
	if got := len(transport.sentIDs()); got != 3 {
		t.Errorf("send attempts = %d, want 3", got)
	}
}

func TestSend_RetryBudgetRecovers(t *testing.T) {
	transport := &mockTransport{sendErr: errors.New("broker unreachable")}
	ch, _ := newTestChannel(transport, 5*time.Second)
	defer ch.Close()
	ctx := context.Background()

	// The broker comes back before the budget runs out
	go func() {
		time.Sleep(100 * time.Millisecond)
		transport.mu.Lock()
		transport.sendErr = nil
		transport.autoAck = true
		transport.mu.Unlock()
	}()

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"x":1}`), 0, 5)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusAcknowledged {
		t.Errorf("result status = %q, want %q", result.Status, StatusAcknowledged)
	}
}

func TestCancel_QueuedCommand(t *testing.T) {
	transport := &mockTransport{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	ch, repo := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	// First command occupies the dispatcher inside transport.Send
	first, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-transport.started

	// Second command is stuck behind it in the queue
	second, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":2}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if err := ch.Cancel(ctx, second.CommandID()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	result, err := second.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed || result.Detail != "cancelled" {
		t.Errorf("cancelled result = %+v, want failed/cancelled", result)
	}

	stored, _ := repo.GetByID(ctx, second.CommandID())
	if stored.Status != StatusFailed {
		t.Errorf("persisted status = %q, want %q", stored.Status, StatusFailed)
	}

	// Release the first command and confirm the cancelled one is skipped
	close(transport.release)
	ch.HandleAck(Ack{CommandID: first.CommandID(), OK: true})
	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	sent := transport.sentIDs()
	for _, id := range sent {
		if id == second.CommandID() {
			t.Error("cancelled command was sent to the device")
		}
	}
}

func TestCancel_SentCommand(t *testing.T) {
	transport := &mockTransport{started: make(chan string, 1)}
	ch, repo := newTestChannel(transport, time.Minute)
	defer ch.Close()
	ctx := context.Background()

	// Command sits awaiting an ack that never comes
	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-transport.started

	if err := ch.Cancel(ctx, handle.CommandID()); err != nil {
		t.Fatalf("Cancel() on sent command error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed || result.Detail != "cancelled" {
		t.Errorf("cancelled result = %+v, want failed/cancelled", result)
	}

	// A late ack after cancellation must not overwrite the outcome
	ch.HandleAck(Ack{CommandID: handle.CommandID(), OK: true})
	time.Sleep(50 * time.Millisecond)

	stored, _ := repo.GetByID(ctx, handle.CommandID())
	if stored.Status != StatusFailed {
		t.Errorf("persisted status = %q, want %q", stored.Status, StatusFailed)
	}

	// Resolved commands are terminal
	if err := ch.Cancel(ctx, handle.CommandID()); !errors.Is(err, ErrNotCancellable) && !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Cancel() on resolved command error = %v, want ErrNotCancellable or ErrCommandNotFound", err)
	}
}

func TestFailPending(t *testing.T) {
	transport := &mockTransport{started: make(chan string, 1)}
	ch, _ := newTestChannel(transport, time.Minute)
	defer ch.Close()
	ctx := context.Background()

	// Command sits awaiting an ack that never comes
	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-transport.started

	if err := ch.FailPending(ctx, "sess-1", "released"); err != nil {
		t.Fatalf("FailPending() error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("result status = %q, want %q", result.Status, StatusFailed)
	}

	// Unknown session is a no-op
	if err := ch.FailPending(ctx, "sess-unknown", "released"); err != nil {
		t.Errorf("FailPending() unknown session error: %v", err)
	}
}

func TestSend_RacesSessionTeardown(t *testing.T) {
	transport := &mockTransport{autoAck: true}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	// Hammer Send against a concurrent session teardown. Whatever the
	// interleaving, every handle the channel hands out must resolve.
	for i := 0; i < 200; i++ {
		sessionID := fmt.Sprintf("sess-%d", i)

		var wg sync.WaitGroup
		var handle *Handle
		var sendErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, sendErr = ch.Send(ctx, sessionID, "scope-01", []byte(`{"n":1}`), 0, 0)
		}()

		if err := ch.FailPending(ctx, sessionID, "released"); err != nil {
			t.Fatalf("FailPending() error: %v", err)
		}
		wg.Wait()

		if sendErr != nil {
			// Refused outright; nothing left dangling
			continue
		}
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := handle.Wait(waitCtx)
		cancel()
		if err != nil {
			t.Fatalf("iteration %d: handle never resolved: %v", i, err)
		}
	}
}

func TestSend_IndependentSessions(t *testing.T) {
	// sess-1's dispatcher blocks; sess-2 must still make progress
	transport := &mockTransport{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	if _, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-transport.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-transport.started // sess-2's command reaches the transport
	}()

	if _, err := ch.Send(ctx, "sess-2", "meter-01", []byte(`{"n":2}`), 0, 0); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second session blocked behind first session's dispatcher")
	}
	close(transport.release)
}

func TestOnResolvedCallback(t *testing.T) {
	transport := &mockTransport{autoAck: true}
	ch, _ := newTestChannel(transport, time.Second)
	defer ch.Close()
	ctx := context.Background()

	resolved := make(chan *Command, 1)
	ch.SetOnResolved(func(cmd *Command) {
		resolved <- cmd
	})

	handle, err := ch.Send(ctx, "sess-1", "scope-01", []byte(`{"n":1}`), 0, 0)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if _, err := handle.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	select {
	case cmd := <-resolved:
		if cmd.Status != StatusAcknowledged {
			t.Errorf("callback status = %q, want %q", cmd.Status, StatusAcknowledged)
		}
	case <-time.After(time.Second):
		t.Fatal("onResolved callback not invoked")
	}
}

func TestParseAck(t *testing.T) {
	ack, err := ParseAck([]byte(`{"command_id":"abc","ok":true,"detail":"done"}`))
	if err != nil {
		t.Fatalf("ParseAck() error: %v", err)
	}
	if ack.CommandID != "abc" || !ack.OK || ack.Detail != "done" {
		t.Errorf("ParseAck() = %+v", ack)
	}

	if _, err := ParseAck([]byte(`{"ok":true}`)); err == nil {
		t.Error("ParseAck() without command_id succeeded, want error")
	}
	if _, err := ParseAck([]byte(`not json`)); err == nil {
		t.Error("ParseAck() on garbage succeeded, want error")
	}
}

func TestHandle_ResolvesOnce(t *testing.T) {
	h := newHandle("cmd-1")
	h.resolve(Result{Status: StatusAcknowledged})
	h.resolve(Result{Status: StatusFailed, Detail: "late"})

	if h.Result().Status != StatusAcknowledged {
		t.Errorf("Result() = %q, want first resolution to win", h.Result().Status)
	}
}

func TestHandle_WaitContextCancelled(t *testing.T) {
	h := newHandle("cmd-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
