// Package telemetry writes access-control measurements to InfluxDB v2.
//
// Writes are non-blocking and batched; the core never stalls on a slow
// or absent time-series backend. When telemetry is disabled in config
// the caller simply runs without a client.
//
// Measurements:
//
//	device_status - status transitions (tagged by device and target status)
//	sessions      - session closures with duration and end reason
//	commands      - command resolutions with round-trip latency
//	reservations  - reservation lifecycle events
package telemetry
