// Lab Access Core - Remote Instrument Access Control
//
// This is the main entry point for the Lab Access Core application.
// The core mediates all access to networked lab instruments:
//   - One control session per instrument at a time
//   - Advance reservations with incumbent grace periods
//   - Ordered command dispatch with per-command outcomes
//   - Full audit trail of who did what, when
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/morland-labs/labaccess-core/migrations"

	"github.com/morland-labs/labaccess-core/internal/access"
	"github.com/morland-labs/labaccess-core/internal/audit"
	"github.com/morland-labs/labaccess-core/internal/command"
	"github.com/morland-labs/labaccess-core/internal/device"
	"github.com/morland-labs/labaccess-core/internal/devlock"
	"github.com/morland-labs/labaccess-core/internal/events"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/config"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/database"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/logging"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/mqtt"
	"github.com/morland-labs/labaccess-core/internal/infrastructure/telemetry"
	"github.com/morland-labs/labaccess-core/internal/reservation"
	"github.com/morland-labs/labaccess-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lab Access Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var metrics *telemetry.Client
	if cfg.InfluxDB.Enabled {
		metrics, err = telemetry.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := metrics.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		metrics.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Per-device lock arena shared by the registry and session manager
	locks := devlock.NewArena()

	// Device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo, locks)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Session manager
	sessionRepo := session.NewSQLiteRepository(db.DB)
	sessions := session.NewManager(sessionRepo, registry, locks, cfg.Access.SessionIdleTimeout, cfg.Access.SessionDefaultDuration)
	sessions.SetLogger(log)

	// Command channel over MQTT
	qos := byte(cfg.MQTT.QoS)
	transport := command.NewMQTTTransport(mqttClient, qos)
	commandRepo := command.NewSQLiteRepository(db.DB)
	channel := command.NewChannel(commandRepo, transport, cfg.Access.CommandDefaultTimeout, cfg.Access.CommandMaxPayload)
	channel.SetLogger(log)
	defer func() {
		log.Info("closing command channel")
		if closeErr := channel.Close(); closeErr != nil {
			log.Error("error closing command channel", "error", closeErr)
		}
	}()

	// Route instrument acknowledgments into the channel
	ackTopic := mqtt.Topics{}.AllInstrumentAcks()
	if subErr := mqttClient.Subscribe(ackTopic, qos, channel.AckHandler()); subErr != nil {
		return fmt.Errorf("subscribing to acks: %w", subErr)
	}
	log.Info("command channel initialised", "ack_topic", ackTopic)

	// Reservation calendar
	reservationRepo := reservation.NewSQLiteRepository(db.DB)
	calendar := reservation.NewCalendar(reservationRepo, sessions, registry,
		cfg.Access.ReservationGracePeriod, cfg.Access.TickInterval)
	calendar.SetLogger(log)

	// Facade: composition and cross-wiring
	facade := access.NewFacade(registry, sessions, channel, calendar)
	facade.SetLogger(log)
	facade.SetAuditTrail(audit.NewSQLiteRepository(db.DB))
	facade.SetEventPublisher(events.NewMQTTPublisher(mqttClient, qos))
	if metrics != nil {
		facade.SetTelemetry(metrics)
	}

	// Start the reservation runner last, once everything it drives exists
	calendar.Start(ctx)
	defer func() {
		log.Info("stopping reservation calendar")
		calendar.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, metrics); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Reservation calendar
	// 2. Command channel
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Lab Access Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LABACCESS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LABACCESS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, metrics *telemetry.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if metrics != nil {
		if err := metrics.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
