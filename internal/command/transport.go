package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morland-labs/labaccess-core/internal/infrastructure/mqtt"
)

// Transport delivers command payloads to device adapters.
type Transport interface {
	// Send delivers the payload for the given command to the device.
	Send(ctx context.Context, deviceID, commandID string, payload []byte) error
}

// Envelope is the wire format published to labaccess/command/{device_id}.
// Payload is base64-encoded by the JSON marshaller.
type Envelope struct {
	CommandID string `json:"command_id"`
	Payload   []byte `json:"payload"`
}

// Ack is the wire format device adapters publish to labaccess/ack/{device_id}.
type Ack struct {
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
}

// MQTTTransport sends commands over the MQTT bus.
type MQTTTransport struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTTransport creates a transport backed by the given MQTT client.
func NewMQTTTransport(client *mqtt.Client, qos byte) *MQTTTransport {
	return &MQTTTransport{client: client, qos: qos}
}

// Send publishes the command envelope to the device's command topic.
func (t *MQTTTransport) Send(_ context.Context, deviceID, commandID string, payload []byte) error {
	envelope, err := json.Marshal(Envelope{
		CommandID: commandID,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshalling command envelope: %w", err)
	}

	topic := mqtt.Topics{}.InstrumentCommand(deviceID)
	return t.client.Publish(topic, envelope, t.qos, false)
}

// ParseAck decodes an acknowledgment payload from a device adapter.
func ParseAck(payload []byte) (Ack, error) {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return Ack{}, fmt.Errorf("unmarshalling ack: %w", err)
	}
	if ack.CommandID == "" {
		return Ack{}, fmt.Errorf("ack missing command_id")
	}
	return ack, nil
}
