package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morland-labs/labaccess-core/internal/devlock"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// For testing error paths
	createErr       error
	updateErr       error
	deleteErr       error
	updateStatusErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		cpy := *d
		return &cpy, nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d)
	}
	return devices, nil
}

func (m *MockRepository) ListByStatus(_ context.Context, status Status) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Status == status {
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func (m *MockRepository) ListByType(_ context.Context, deviceType DeviceType) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Type == deviceType {
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; exists {
		return ErrDeviceExists
	}

	cpy := *device
	m.devices[device.ID] = &cpy
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; !exists {
		return ErrDeviceNotFound
	}

	cpy := *device
	m.devices[device.ID] = &cpy
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}

	delete(m.devices, id)
	return nil
}

func (m *MockRepository) UpdateStatus(_ context.Context, id string, status Status, lastSeen *time.Time) error {
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}

	d.Status = status
	if lastSeen != nil {
		d.LastSeen = lastSeen
	}
	return nil
}

func newTestRegistry() (*Registry, *MockRepository) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, devlock.NewArena())
	return registry, repo
}

func testDevice() *Device {
	return &Device{
		Name:     "Bench Spectroscope",
		Type:     DeviceTypeSpectroscope,
		Metadata: Metadata{"wavelength_nm": []any{380.0, 750.0}},
	}
}

func TestRegister_GeneratesIDAndDefaultStatus(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if dev.ID == "" {
		t.Error("Register() did not generate an ID")
	}
	if dev.Status != StatusOffline {
		t.Errorf("Register() status = %q, want %q", dev.Status, StatusOffline)
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	dev.ID = "spectro-01"
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	dup := testDevice()
	dup.ID = "spectro-01"
	if err := registry.Register(ctx, dup); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Register() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestRegister_InvalidDevice(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"empty name", &Device{Name: "", Type: DeviceTypeSensor}, ErrInvalidName},
		{"unknown type", &Device{Name: "Thing", Type: "hovercraft"}, ErrInvalidDeviceType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := registry.Register(ctx, tt.device); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDevice_ReturnsDeepCopy(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	got, err := registry.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}

	// Mutating the returned copy must not affect the cache
	got.Metadata["wavelength_nm"] = "corrupted"

	again, err := registry.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	if _, ok := again.Metadata["wavelength_nm"].([]any); !ok {
		t.Error("mutation of returned device leaked into the cache")
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	registry, _ := newTestRegistry()

	if _, err := registry.GetDevice(context.Background(), "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestTransition_Lifecycle(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// offline -> connecting -> online is the normal bring-up path
	for _, to := range []Status{StatusConnecting, StatusOnline} {
		if err := registry.Transition(ctx, dev.ID, to); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}

	got, _ := registry.GetDevice(ctx, dev.ID)
	if got.Status != StatusOnline {
		t.Errorf("status = %q, want %q", got.Status, StatusOnline)
	}
	if got.LastSeen == nil {
		t.Error("LastSeen not refreshed on entering online")
	}
}

func TestTransition_Illegal(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// offline -> online skips the connection handshake
	if err := registry.Transition(ctx, dev.ID, StatusOnline); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(offline->online) error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := registry.Transition(ctx, dev.ID, StatusOffline); err != nil {
		t.Errorf("Transition() to same status error = %v, want nil", err)
	}
}

func TestTransition_MaintenanceFromAnywhere(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := registry.Transition(ctx, dev.ID, StatusMaintenance); err != nil {
		t.Fatalf("Transition(maintenance) error: %v", err)
	}

	// Maintenance only releases to offline
	if err := registry.Transition(ctx, dev.ID, StatusConnecting); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(maintenance->connecting) error = %v, want ErrInvalidTransition", err)
	}
	if err := registry.Transition(ctx, dev.ID, StatusOffline); err != nil {
		t.Errorf("Transition(maintenance->offline) error: %v", err)
	}
}

func TestTransition_ConcurrentSameDevice(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := registry.Transition(ctx, dev.ID, StatusConnecting); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	// Racing connecting->online transitions: exactly one should apply,
	// the others see a no-op (already online).
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = registry.Transition(ctx, dev.ID, StatusOnline)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Transition() goroutine %d error: %v", i, err)
		}
	}

	got, _ := registry.GetDevice(ctx, dev.ID)
	if got.Status != StatusOnline {
		t.Errorf("status = %q, want %q", got.Status, StatusOnline)
	}
}

func TestTransition_Callback(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	var gotFrom, gotTo Status
	registry.SetOnStatusChange(func(_ string, from, to Status) {
		gotFrom, gotTo = from, to
	})

	if err := registry.Transition(ctx, dev.ID, StatusConnecting); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	if gotFrom != StatusOffline || gotTo != StatusConnecting {
		t.Errorf("callback got (%q, %q), want (offline, connecting)", gotFrom, gotTo)
	}
}

// staticChecker is a ReferenceChecker with a fixed answer.
type staticChecker struct {
	inUse bool
	err   error
}

func (c staticChecker) HasActiveReferences(context.Context, string) (bool, error) {
	return c.inUse, c.err
}

func TestRemove_RefusedWhileInUse(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	dev := testDevice()
	if err := registry.Register(ctx, dev); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	registry.SetReferenceChecker(staticChecker{inUse: true})
	if err := registry.Remove(ctx, dev.ID); !errors.Is(err, ErrDeviceInUse) {
		t.Errorf("Remove() error = %v, want ErrDeviceInUse", err)
	}

	registry.SetReferenceChecker(staticChecker{inUse: false})
	if err := registry.Remove(ctx, dev.ID); err != nil {
		t.Errorf("Remove() error: %v", err)
	}

	if _, err := registry.GetDevice(ctx, dev.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after Remove error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRefreshCache(t *testing.T) {
	registry, repo := newTestRegistry()
	ctx := context.Background()

	for _, name := range []string{"Meter A", "Meter B", "Meter C"} {
		repo.devices[GenerateID()] = &Device{Name: name, Type: DeviceTypeMeter, Status: StatusOffline}
	}
	// Re-key by ID
	byID := make(map[string]*Device, len(repo.devices))
	for id, d := range repo.devices {
		d.ID = id
		byID[id] = d
	}
	repo.devices = byID

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error: %v", err)
	}
	if registry.GetDeviceCount() != 3 {
		t.Errorf("GetDeviceCount() = %d, want 3", registry.GetDeviceCount())
	}
}

func TestGetStats(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d := &Device{Name: "Camera", Type: DeviceTypeCamera}
		if err := registry.Register(ctx, d); err != nil {
			t.Fatalf("Register() error: %v", err)
		}
	}
	d := &Device{Name: "Logger", Type: DeviceTypeDatalogger}
	if err := registry.Register(ctx, d); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	stats := registry.GetStats()
	if stats.TotalDevices != 3 {
		t.Errorf("TotalDevices = %d, want 3", stats.TotalDevices)
	}
	if stats.ByType[DeviceTypeCamera] != 2 {
		t.Errorf("ByType[camera] = %d, want 2", stats.ByType[DeviceTypeCamera])
	}
	if stats.ByStatus[StatusOffline] != 3 {
		t.Errorf("ByStatus[offline] = %d, want 3", stats.ByStatus[StatusOffline])
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOffline, StatusConnecting, true},
		{StatusConnecting, StatusOnline, true},
		{StatusConnecting, StatusError, true},
		{StatusOnline, StatusOffline, true},
		{StatusOnline, StatusError, true},
		{StatusError, StatusOffline, true},
		{StatusError, StatusOnline, false},
		{StatusOffline, StatusOnline, false},
		{StatusOnline, StatusConnecting, false},
		{StatusMaintenance, StatusOffline, true},
		{StatusMaintenance, StatusOnline, false},
		{StatusOnline, StatusMaintenance, true},
		{StatusError, StatusMaintenance, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
