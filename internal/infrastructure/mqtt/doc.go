// Package mqtt provides the MQTT transport for the lab access core.
//
// It wraps the Eclipse Paho client with connection lifecycle management,
// automatic reconnection, subscription restoration, and Last Will and
// Testament publishing so other services can detect when the core drops
// off the bus.
//
// Topic layout:
//
//	labaccess/command/{device_id}   - commands from core to device adapters
//	labaccess/ack/{device_id}       - acknowledgements from device adapters
//	labaccess/core/event/{type}     - lifecycle events emitted by the core
//	labaccess/system/status         - core online/offline status (retained, LWT)
//
// Use the Topics type for building topic strings rather than formatting
// them inline.
package mqtt
