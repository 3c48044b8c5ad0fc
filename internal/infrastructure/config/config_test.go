package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, "site:\n  id: lab-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Site.ID != "lab-test" {
		t.Errorf("Site.ID = %q, want lab-test", cfg.Site.ID)
	}
	if cfg.Access.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.Access.SessionIdleTimeout)
	}
	if cfg.Access.SessionDefaultDuration != time.Hour {
		t.Errorf("SessionDefaultDuration = %v, want 1h", cfg.Access.SessionDefaultDuration)
	}
	if cfg.Access.ReservationGracePeriod != 5*time.Minute {
		t.Errorf("ReservationGracePeriod = %v, want 5m", cfg.Access.ReservationGracePeriod)
	}
	if cfg.Access.CommandMaxPayload != 64*1024 {
		t.Errorf("CommandMaxPayload = %d, want 65536", cfg.Access.CommandMaxPayload)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: lab-42
database:
  path: /tmp/test.db
access:
  session_idle_timeout: 15m
  tick_interval: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Access.SessionIdleTimeout != 15*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 15m", cfg.Access.SessionIdleTimeout)
	}
	if cfg.Access.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.Access.TickInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "site:\n  id: lab-env\n")

	t.Setenv("LABACCESS_DATABASE_PATH", "/var/lib/labaccess/override.db")
	t.Setenv("LABACCESS_MQTT_HOST", "broker.internal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/var/lib/labaccess/override.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.internal" {
		t.Errorf("MQTT host = %q", cfg.MQTT.Broker.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() with missing file should fail")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty site id", func(c *Config) { c.Site.ID = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"invalid qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"zero idle timeout", func(c *Config) { c.Access.SessionIdleTimeout = 0 }},
		{"zero session duration", func(c *Config) { c.Access.SessionDefaultDuration = 0 }},
		{"negative grace period", func(c *Config) { c.Access.ReservationGracePeriod = -time.Second }},
		{"zero tick interval", func(c *Config) { c.Access.TickInterval = 0 }},
		{"zero command timeout", func(c *Config) { c.Access.CommandDefaultTimeout = 0 }},
		{"zero max payload", func(c *Config) { c.Access.CommandMaxPayload = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
