package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the lab access core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Access   AccessConfig   `yaml:"access"`
}

// SiteConfig identifies the installation (a lab, a campus, a bench).
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AccessConfig contains the tunables of the access-control core.
//
// The idle timeout and grace period were deliberately left open by the
// product requirements; the defaults below are documented here and in
// DESIGN.md rather than buried as constants.
type AccessConfig struct {
	// SessionIdleTimeout is how long a session may go without an
	// acknowledged command before a competing requester may reclaim the
	// device. Default: 30m.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// SessionDefaultDuration bounds sessions whose requesters did not
	// ask for a duration. Default: 1h.
	SessionDefaultDuration time.Duration `yaml:"session_default_duration"`

	// ReservationGracePeriod is how long an incumbent session holds off a
	// newly activated reservation for a different holder before it is
	// force-ended. Default: 5m.
	ReservationGracePeriod time.Duration `yaml:"reservation_grace_period"`

	// TickInterval is how often the reservation maintenance pass runs.
	// Default: 30s.
	TickInterval time.Duration `yaml:"tick_interval"`

	// CommandDefaultTimeout is applied when a caller sends a command
	// without an explicit timeout. Default: 10s.
	CommandDefaultTimeout time.Duration `yaml:"command_default_timeout"`

	// CommandMaxPayload bounds the opaque command payload in bytes.
	// Default: 65536.
	CommandMaxPayload int `yaml:"command_max_payload"`
}

// Default values for AccessConfig.
const (
	defaultIdleTimeout     = 30 * time.Minute
	defaultSessionDuration = time.Hour
	defaultGracePeriod     = 5 * time.Minute
	defaultTickInterval    = 30 * time.Second
	defaultCommandTimeout  = 10 * time.Second
	defaultMaxPayload      = 64 * 1024
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LABACCESS_SECTION_KEY
// For example: LABACCESS_DATABASE_PATH, LABACCESS_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "lab-001",
			Name:     "Lab Access",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/labaccess.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "labaccess-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Access: AccessConfig{
			SessionIdleTimeout:     defaultIdleTimeout,
			SessionDefaultDuration: defaultSessionDuration,
			ReservationGracePeriod: defaultGracePeriod,
			TickInterval:           defaultTickInterval,
			CommandDefaultTimeout:  defaultCommandTimeout,
			CommandMaxPayload:      defaultMaxPayload,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LABACCESS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LABACCESS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LABACCESS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LABACCESS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LABACCESS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("LABACCESS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Access.SessionIdleTimeout <= 0 {
		errs = append(errs, "access.session_idle_timeout must be positive")
	}
	if c.Access.SessionDefaultDuration <= 0 {
		errs = append(errs, "access.session_default_duration must be positive")
	}
	if c.Access.ReservationGracePeriod < 0 {
		errs = append(errs, "access.reservation_grace_period cannot be negative")
	}
	if c.Access.TickInterval <= 0 {
		errs = append(errs, "access.tick_interval must be positive")
	}
	if c.Access.CommandDefaultTimeout <= 0 {
		errs = append(errs, "access.command_default_timeout must be positive")
	}
	if c.Access.CommandMaxPayload <= 0 {
		errs = append(errs, "access.command_max_payload must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
