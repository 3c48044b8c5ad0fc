package device

import "time"

// Device represents a lab instrument managed by the access-control core.
// This matches the database schema in migrations/20260315_100000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Type DeviceType `json:"type"`

	// Connectivity
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Metadata holds free-form instrument details as a JSON map.
	//
	// Examples:
	//   - Microscope: {"magnification": 1000, "stage": "motorised"}
	//   - Meter: {"ranges": ["mV", "V"], "calibrated_at": "2026-01-10"}
	Metadata Metadata `json:"metadata,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// The metadata map is cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Metadata = deepCopyMap(d.Metadata)

	// Pointer fields (*time.Time) don't need deep copy
	// because time.Time is immutable in Go

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Metadata holds instrument-specific details as a JSON map.
type Metadata map[string]any

// DeviceType represents the specific kind of instrument.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// DeviceType constants.
const (
	DeviceTypeSensor       DeviceType = "sensor"
	DeviceTypeMeter        DeviceType = "meter"
	DeviceTypeMicroscope   DeviceType = "microscope"
	DeviceTypeSpectroscope DeviceType = "spectroscope"
	DeviceTypeDatalogger   DeviceType = "datalogger"
	DeviceTypeCamera       DeviceType = "camera"
	DeviceTypeControlUnit  DeviceType = "control_unit"
	DeviceTypeOther        DeviceType = "other"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeSensor, DeviceTypeMeter, DeviceTypeMicroscope,
		DeviceTypeSpectroscope, DeviceTypeDatalogger, DeviceTypeCamera,
		DeviceTypeControlUnit, DeviceTypeOther,
	}
}

// Status represents the connectivity state of an instrument.
type Status string

// Status constants.
const (
	StatusOffline     Status = "offline"
	StatusConnecting  Status = "connecting"
	StatusOnline      Status = "online"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusOffline, StatusConnecting, StatusOnline,
		StatusError, StatusMaintenance,
	}
}

// legalTransitions maps each status to the statuses it may move to.
// Maintenance is reachable from any status and only releases to offline,
// forcing a fresh connection handshake after servicing.
var legalTransitions = map[Status][]Status{
	StatusOffline:     {StatusConnecting, StatusMaintenance},
	StatusConnecting:  {StatusOnline, StatusError, StatusMaintenance},
	StatusOnline:      {StatusOffline, StatusError, StatusMaintenance},
	StatusError:       {StatusOffline, StatusMaintenance},
	StatusMaintenance: {StatusOffline},
}

// CanTransition reports whether moving from one status to another is legal.
// A no-op transition (same status) is never legal; callers should treat
// it as already-satisfied instead.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
