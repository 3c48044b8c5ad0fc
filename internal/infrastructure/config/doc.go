// Package config loads and validates the lab access core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by LABACCESS_* environment variables. Secrets
// (MQTT credentials, InfluxDB token) should be supplied through the
// environment rather than the file.
//
// The Access section carries the scheduling tunables of the core: the
// session idle timeout, the reservation grace period, the maintenance tick
// interval, and the command timeout/payload bounds. Each has a documented
// default so a minimal config file only needs database and broker settings.
package config
