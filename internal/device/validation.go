package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100

	// Size limits for the metadata map to prevent memory exhaustion.
	// Generous for instrument descriptions, tight enough to reject abuse.
	maxMetadataKeys   = 50
	maxStringValueLen = 1024

	// maxNestingDepth prevents stack overflow from deeply nested structures.
	maxNestingDepth = 10
)

// Pre-computed validation sets for O(1) lookups instead of O(n) linear search.
var (
	validDeviceTypes map[DeviceType]struct{}
	validStatuses    map[Status]struct{}
)

func init() {
	// Build validation sets once at startup
	validDeviceTypes = make(map[DeviceType]struct{}, len(AllDeviceTypes()))
	for _, t := range AllDeviceTypes() {
		validDeviceTypes[t] = struct{}{}
	}

	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateDeviceType(d.Type); err != nil {
		return err
	}

	if d.Status != "" {
		if err := ValidateStatus(d.Status); err != nil {
			return err
		}
	}

	if len(d.Metadata) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata exceeds max keys (%d)", ErrInvalidDevice, maxMetadataKeys)
	}
	if err := validateMapSize(d.Metadata, "metadata"); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDeviceType checks if a device type is valid.
// Uses O(1) map lookup for efficiency.
func ValidateDeviceType(deviceType DeviceType) error {
	if _, ok := validDeviceTypes[deviceType]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDeviceType, deviceType)
}

// ValidateStatus checks if a status is valid.
// Uses O(1) map lookup for efficiency.
func ValidateStatus(status Status) error {
	if _, ok := validStatuses[status]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// validateMapSize checks that all values in a map don't exceed size limits.
// This recursively validates nested maps and slices.
func validateMapSize(m map[string]any, fieldName string) error {
	return validateMapSizeRecursive(m, fieldName, 0)
}

// validateMapSizeRecursive recursively validates map values with depth tracking.
func validateMapSizeRecursive(m map[string]any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidDevice, fieldName)
	}

	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalidDevice, fieldName)
		}
		if err := validateValueSize(v, fieldName, depth); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidDevice, fieldName)
		}
	case map[string]any:
		if len(val) > maxMetadataKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidDevice, fieldName)
		}
		return validateMapSizeRecursive(val, fieldName, depth+1)
	case []any:
		if len(val) > maxMetadataKeys {
			return fmt.Errorf("%w: %s array too large", ErrInvalidDevice, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	// Primitives (bool, int, float64, etc.) are safe
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
