package mqtt

import "fmt"

// Topic prefixes for the lab access message bus.
//
// Instrument-facing topics use the flat scheme labaccess/{category}/{device_id};
// core-emitted events live under labaccess/core.
const (
	// TopicPrefix is the base for all lab access topics.
	TopicPrefix = "labaccess"

	// TopicPrefixCore is the base for core-emitted topics.
	TopicPrefixCore = "labaccess/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "labaccess/system"
)

// Topics provides builders for lab access MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.InstrumentCommand("spectro-01")
//	// Returns: "labaccess/command/spectro-01"
type Topics struct{}

// InstrumentCommand returns the topic commands are published to for a device.
//
// Example: labaccess/command/spectro-01
func (Topics) InstrumentCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// InstrumentAck returns the topic a device adapter replies on.
//
// Example: labaccess/ack/spectro-01
func (Topics) InstrumentAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// CoreEvent returns the topic for core lifecycle events.
//
// Example: labaccess/core/event/session_started
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: labaccess/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllInstrumentAcks returns a pattern matching every device ack topic.
//
// Pattern: labaccess/ack/+
func (Topics) AllInstrumentAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefix)
}

// AllCoreEvents returns a pattern matching all core events.
//
// Pattern: labaccess/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}
