package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/morland-labs/labaccess-core/internal/devlock"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// ReferenceChecker reports whether a device is referenced by live state
// elsewhere in the system (an open session, pending reservations).
// Wired by the composition root to avoid package cycles.
type ReferenceChecker interface {
	HasActiveReferences(ctx context.Context, deviceID string) (bool, error)
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating operations. Status transitions are serialised
// per device through the shared lock arena.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	locks   *devlock.Arena
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger

	refChecker ReferenceChecker

	// onStatusChange is invoked after a successful transition (optional).
	onStatusChange func(deviceID string, from, to Status)
	callbackMu     sync.RWMutex
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the lock arena serialises
// per-device mutations and is shared with the session and reservation
// components.
func NewRegistry(repo Repository, locks *devlock.Arena) *Registry {
	return &Registry{
		repo:   repo,
		locks:  locks,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetReferenceChecker wires the checker consulted before Remove.
// Without one, Remove only enforces existence.
func (r *Registry) SetReferenceChecker(checker ReferenceChecker) {
	r.refChecker = checker
}

// SetOnStatusChange sets a callback invoked after each successful
// status transition. Used by the composition root to fan out events
// and telemetry without this package depending on either.
func (r *Registry) SetOnStatusChange(callback func(deviceID string, from, to Status)) {
	r.callbackMu.Lock()
	r.onStatusChange = callback
	r.callbackMu.Unlock()
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register adds a new device to the registry.
// A missing ID is generated; a missing status defaults to offline.
// Returns ErrDeviceExists if the ID is already registered.
func (r *Registry) Register(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Status == "" {
		device.Status = StatusOffline
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "id", device.ID, "name", device.Name, "type", device.Type)
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// GetStatus returns the current connectivity status of a device.
func (r *Registry) GetStatus(ctx context.Context, id string) (Status, error) {
	device, err := r.GetDevice(ctx, id)
	if err != nil {
		return "", err
	}
	return device.Status, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByStatus retrieves all devices in a specific status.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByStatus(ctx context.Context, status Status) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Status == status {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// GetDevicesByType retrieves all devices of a specific type.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByType(ctx context.Context, deviceType DeviceType) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Type == deviceType {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByType(ctx, deviceType)
}

// UpdateDevice updates an existing device's name, type, and metadata.
// Status is not touched here; use Transition for status changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	unlock := r.locks.Lock(device.ID)
	defer unlock()

	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}

	// Preserve connectivity fields managed by Transition
	device.Status = existing.Status
	device.LastSeen = existing.LastSeen
	device.CreatedAt = existing.CreatedAt

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// Transition moves a device to a new connectivity status.
//
// Illegal transitions return ErrInvalidTransition. A transition to the
// current status is a no-op and returns nil. Entering online refreshes
// the last seen timestamp.
func (r *Registry) Transition(ctx context.Context, id string, to Status) error {
	if err := ValidateStatus(to); err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	device, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	from := device.Status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	var lastSeen *time.Time
	if to == StatusOnline {
		now := time.Now().UTC()
		lastSeen = &now
	}

	if err := r.repo.UpdateStatus(ctx, id, to, lastSeen); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Status = to
		if lastSeen != nil {
			updated.LastSeen = lastSeen
		}
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device status changed", "id", id, "from", from, "to", to)

	r.callbackMu.RLock()
	callback := r.onStatusChange
	r.callbackMu.RUnlock()
	if callback != nil {
		callback(id, from, to)
	}

	return nil
}

// Remove deletes a device from the registry.
//
// Removal is refused with ErrDeviceInUse while the device has an open
// session or pending reservations.
func (r *Registry) Remove(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	if r.refChecker != nil {
		inUse, err := r.refChecker.HasActiveReferences(ctx, id)
		if err != nil {
			return fmt.Errorf("checking device references: %w", err)
		}
		if inUse {
			return ErrDeviceInUse
		}
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByType       map[DeviceType]int
	ByStatus     map[Status]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[DeviceType]int),
		ByStatus:     make(map[Status]int),
	}

	for _, d := range r.cache {
		stats.ByType[d.Type]++
		stats.ByStatus[d.Status]++
	}

	return stats
}
