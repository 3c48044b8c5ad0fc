package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatusTransition records a device status change.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteStatusTransition("spectro-01", "connecting", "online")
func (c *Client) WriteStatusTransition(deviceID, from, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"device_id": deviceID,
			"to":        to,
		},
		map[string]interface{}{
			"from": from,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionClosed records the end of a control session, with its
// duration and how it ended (released, idle-timeout, preempted, device-lost).
func (c *Client) WriteSessionClosed(deviceID, holder, reason string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sessions",
		map[string]string{
			"device_id": deviceID,
			"reason":    reason,
		},
		map[string]interface{}{
			"holder":           holder,
			"duration_seconds": duration.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandResolved records a command reaching a terminal state, with
// round-trip latency from enqueue to resolution.
func (c *Client) WriteCommandResolved(deviceID, status string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"commands",
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteReservationEvent records a reservation lifecycle change
// (reserved, activated, completed, cancelled).
func (c *Client) WriteReservationEvent(deviceID, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"reservations",
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
