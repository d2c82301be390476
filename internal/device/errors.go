package device

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotPresent) {
//	    // handle absent-device case
//	}
var (
	// ErrNotPresent is returned when connecting to a device whose primary
	// binding has no live backend (remembered but physically absent).
	ErrNotPresent = errors.New("device: not physically present")

	// ErrNotFound is returned when a row or key does not resolve to a record.
	ErrNotFound = errors.New("device: not found")

	// ErrConnectionFailed is returned when a session constructor fails.
	ErrConnectionFailed = errors.New("device: connection failed")

	// ErrStorage is returned when a persistence operation fails.
	// In-memory state changes are applied regardless.
	ErrStorage = errors.New("device: storage operation failed")
)

// UnsupportedDeviceError is returned by Connect when none of a device's
// candidate URLs has a registered session constructor. It carries the
// rejected URL list for display.
type UnsupportedDeviceError struct {
	URLs []string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("device: unsupported device type: %s", strings.Join(e.URLs, ", "))
}
