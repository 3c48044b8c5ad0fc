// Package events publishes core lifecycle events to the message bus.
//
// Events are advisory notifications (session started, reservation
// activated, device status changed) consumed by dashboards and lab
// tooling. Publishing is best-effort: a failed publish is logged by the
// caller but never fails the operation that produced the event.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morland-labs/labaccess-core/internal/infrastructure/mqtt"
)

// Event types emitted by the core.
const (
	TypeDeviceRegistered     = "device_registered"
	TypeDeviceRemoved        = "device_removed"
	TypeDeviceStatusChanged  = "device_status_changed"
	TypeSessionStarted       = "session_started"
	TypeSessionEnded         = "session_ended"
	TypeReservationCreated   = "reservation_created"
	TypeReservationActivated = "reservation_activated"
	TypeReservationDeferred  = "reservation_activation_deferred"
	TypeReservationAttached  = "reservation_session_attached"
	TypeReservationCompleted = "reservation_completed"
	TypeReservationCancelled = "reservation_cancelled"
	TypeCommandResolved      = "command_resolved"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(event Event) error
}

// MQTTPublisher publishes events to labaccess/core/event/{type}.
type MQTTPublisher struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTPublisher creates a publisher backed by the given MQTT client.
func NewMQTTPublisher(client *mqtt.Client, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, qos: qos}
}

// Publish serialises the event as JSON and publishes it.
// Events are not retained; consumers only care about the live stream.
func (p *MQTTPublisher) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	topic := mqtt.Topics{}.CoreEvent(event.Type)
	return p.client.Publish(topic, payload, p.qos, false)
}

// NoopPublisher discards all events. Used when the bus is unavailable
// and in tests.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(Event) error { return nil }
