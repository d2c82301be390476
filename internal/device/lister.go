package device

import (
	"context"
	"net/url"
)

// EventType identifies the kind of discovery event a lister emits.
type EventType int

// Discovery event types.
const (
	// EventAdded signals a device has become visible to the lister.
	EventAdded EventType = iota

	// EventRemoved signals a device has disappeared from the lister.
	EventRemoved

	// EventChanged signals device metadata may have changed.
	// Reserved: the registry currently logs and ignores it.
	EventChanged
)

// Event is a single discovery notification from a lister.
type Event struct {
	Type     EventType
	NativeID string
}

// Lister is the contract a discovery backend must satisfy.
//
// Listers enumerate physically attached or reachable devices and emit
// add/remove/change events. Native ids are unique only within a single
// lister's namespace; the Manager reconciles ids across listers by URL.
//
// Query methods may be called from the Manager's event goroutines and must
// be safe for concurrent use. They are expected to answer from the lister's
// current view without long blocking.
type Lister interface {
	// Start begins enumeration. Events are delivered on the returned
	// channel until ctx is cancelled, after which the channel is closed.
	// Devices already present at startup are reported as EventAdded.
	Start(ctx context.Context) (<-chan Event, error)

	// Priority ranks this lister against others reporting the same
	// physical device; higher wins primary-binding selection.
	Priority() int

	// MakeFriendlyName returns a human-readable name for the device.
	MakeFriendlyName(nativeID string) string

	// DeviceCapacity returns the device's total size in bytes, 0 if unknown.
	DeviceCapacity(nativeID string) int64

	// DeviceIcons returns candidate icon name hints, best first.
	DeviceIcons(nativeID string) []string

	// MakeDeviceURLs resolves the device into one or more connection URLs.
	MakeDeviceURLs(nativeID string) []*url.URL

	// DeviceFreeSpace returns the free bytes on the device, 0 if unknown.
	DeviceFreeSpace(nativeID string) int64

	// UnmountDevice asks the platform to unmount/eject the device.
	UnmountDevice(nativeID string) error
}
