package mqtt

import "fmt"

// Topic prefixes for the portdock MQTT namespace.
const (
	// TopicPrefix is the base for all portdock topics.
	TopicPrefix = "portdock"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "portdock/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "portdock/system"
)

// Topics provides builders for portdock MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("3f1c...")
//	// Returns: "portdock/device/3f1c.../state"
type Topics struct{}

// DeviceState returns the retained per-device state topic.
//
// Example: portdock/device/3f1c-a2/state
func (Topics) DeviceState(key string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, key)
}

// DeviceEvent returns the topic for registry lifecycle events.
//
// Example: portdock/event/connected
func (Topics) DeviceEvent(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, kind)
}

// Command returns the topic for a remote command against one device.
//
// Example: portdock/command/unmount/3f1c-a2
func (Topics) Command(action, key string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, action, key)
}

// SystemStatus returns the daemon status topic (retained, also the LWT).
//
// Example: portdock/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCommands returns a pattern matching every remote command topic.
//
// Pattern: portdock/command/+/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: portdock/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevice)
}

// AllEvents returns a pattern matching every lifecycle event topic.
//
// Pattern: portdock/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}
