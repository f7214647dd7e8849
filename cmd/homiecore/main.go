// Homie Core - Homie MQTT device assembler
//
// This is the main entry point for the Homie Core service. It subscribes to a
// Homie root topic, assembles devices, nodes and properties from the message
// stream and serves the resulting model over HTTP and WebSocket.
//
// Usage:
//
//	homiecore                                   run the service
//	homiecore -config /etc/homiecore.yaml       explicit config path
//	homiecore -issue-token alice -role admin    print an API token and exit
//	homiecore -rollback                         undo the latest migration and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/homie-core/internal/api"
	"github.com/nerrad567/homie-core/internal/auth"
	"github.com/nerrad567/homie-core/internal/homie"
	"github.com/nerrad567/homie-core/internal/infrastructure/config"
	"github.com/nerrad567/homie-core/internal/infrastructure/database"
	"github.com/nerrad567/homie-core/internal/infrastructure/logging"
	"github.com/nerrad567/homie-core/internal/infrastructure/metrics"
	"github.com/nerrad567/homie-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-core/internal/journal"
	"github.com/nerrad567/homie-core/migrations"
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

// options are the command-line flags.
type options struct {
	configPath string
	issueToken string
	role       string
	rollback   bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.issueToken != "" {
		if err := issueToken(opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if opts.rollback {
		if err := rollback(context.Background(), opts.configPath, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads command-line flags. The config path defaults to
// HOMIECORE_CONFIG, then configs/config.yaml.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("homiecore", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API token for this subject and exit")
	fs.StringVar(&opts.role, "role", string(auth.RoleViewer), "role for -issue-token (viewer or admin)")
	fs.BoolVar(&opts.rollback, "rollback", false, "roll back the latest database migration and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// issueToken signs an access token with the configured JWT secret.
func issueToken(opts options, w io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.AuthEnabled() {
		return fmt.Errorf("security.jwt.secret is not set; authentication is disabled")
	}

	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateAccessToken(opts.issueToken, auth.Role(opts.role), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// rollback undoes the most recent database migration and prints what is
// still applied.
func rollback(ctx context.Context, configPath string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Best effort on exit

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	_, err = fmt.Fprintf(w, "migrations applied: %d, pending: %d\n", len(applied), len(pending))
	return err
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:funlen // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Homie Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, _, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	if len(applied) > 0 {
		log.Info("database migrations complete",
			"applied", len(applied),
			"schema_version", applied[len(applied)-1].Version,
		)
	}

	// Assemble the registry and its observers
	registry := homie.NewRegistry()
	registry.SetLogger(log.Component("homie"))

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.RegisterDevices(registry)
	registry.SetFailureHook(metricsRegistry.RecordObserverFailure)
	registry.Subscribe(metricsRegistry)

	journalRepo := journal.NewSQLiteRepository(db.DB)
	registry.Subscribe(journal.NewRecorder(journalRepo))

	if !cfg.AuthEnabled() {
		log.Warn("security.jwt.secret not set, API authentication disabled")
	}

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
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// HTTP API and WebSocket stream
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Registry: registry,
		Journal:  journalRepo,
		Metrics:  metricsRegistry,
		Checks: map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		},
		Feeds:   mqttClient,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Start ingestion last so observers are in place before the retained
	// Homie state arrives.
	topics := mqtt.Topics{Root: cfg.MQTT.Homie.RootTopic}
	if subErr := mqttClient.Subscribe(topics.AllDevices(), byte(cfg.MQTT.QoS), metricsRegistry.Instrument(registry.HandleMessage)); subErr != nil {
		return fmt.Errorf("subscribing to %s: %w", topics.AllDevices(), subErr)
	}
	defer func() {
		// Stop ingestion before the observers are torn down.
		if unsubErr := mqttClient.Unsubscribe(topics.AllDevices()); unsubErr != nil {
			log.Warn("error unsubscribing from Homie root", "error", unsubErr)
		}
	}()
	log.Info("Homie Core started", "root_topic", cfg.MQTT.Homie.RootTopic)

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		log.Warn("initial health check failed", "error", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up",
		"devices", registry.DeviceCount(),
		"pending_devices", registry.PendingCount(),
	)

	// Deferred calls run in reverse order:
	// unsubscribe -> API server -> MQTT -> database
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMIECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMIECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks ...api.HealthChecker) error {
	for _, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}
