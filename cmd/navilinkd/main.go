// navilinkd keeps a live session with the NaviLink water heater cloud.
//
// It signs in to the account server, holds one AWS IoT MQTT connection for
// every monitored gateway, polls status on a fixed interval and reconnects
// with backoff when the link goes stale. Device state is exposed over a
// REST and WebSocket API, recorded to SQLite, and optionally forwarded to
// InfluxDB, NATS and Prometheus.
//
// Usage:
//
//	navilinkd [-config path]
//	navilinkd -hash-password < password.txt
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbuck1/navilink/internal/api"
	"github.com/kbuck1/navilink/internal/auth"
	"github.com/kbuck1/navilink/internal/device"
	"github.com/kbuck1/navilink/internal/forwarder"
	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/infrastructure/database"
	"github.com/kbuck1/navilink/internal/infrastructure/influxdb"
	"github.com/kbuck1/navilink/internal/infrastructure/logging"
	"github.com/kbuck1/navilink/internal/infrastructure/metrics"
	"github.com/kbuck1/navilink/internal/infrastructure/mqtt"
	"github.com/kbuck1/navilink/internal/navilink"
	"github.com/kbuck1/navilink/internal/statesync"
	"github.com/kbuck1/navilink/migrations"
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

// linkStatusInterval is how often link status is pushed to NATS and
// WebSocket clients.
const linkStatusInterval = 30 * time.Second

// startupHealthTimeout bounds the health check run after initialisation.
const startupHealthTimeout = 10 * time.Second

func main() {
	configFlag := flag.String("config", "", "path to the YAML configuration file")
	hashFlag := flag.Bool("hash-password", false, "read a password from stdin and print its Argon2id hash")
	flag.Parse()

	if *hashFlag {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Startup wiring: one step per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting navilinkd",
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
	mqtt.SetLibraryLoggers(log.Printer(slog.LevelError), log.Printer(slog.LevelWarn))

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
	log.Info("database migrations complete")

	history := device.NewSQLiteHistoryRepository(db.DB, nil)
	preferences := device.NewSQLitePreferenceRepository(db.DB)

	healthChecks := map[string]api.HealthChecker{"database": db}
	syncOpts := statesync.Options{
		History:   history,
		Retention: cfg.Database.GetHistoryRetention(),
		Logger:    log.Component("statesync"),
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		healthChecks["influxdb"] = influxClient
		syncOpts.Telemetry = influxClient
	}

	// Prometheus collectors (optional)
	var (
		observer   navilink.Observer
		collectors *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		collectors = metrics.New()
		observer = collectors
		syncOpts.Metrics = collectors
		log.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	// Connect to NATS (optional)
	var fwd *forwarder.Forwarder
	nc, err := forwarder.Connect(cfg.NATS, log)
	switch {
	case errors.Is(err, forwarder.ErrDisabled):
		log.Info("NATS forwarding disabled")
	case err != nil:
		return fmt.Errorf("connecting to NATS: %w", err)
	default:
		defer func() {
			log.Info("draining NATS connection")
			if drainErr := nc.Drain(); drainErr != nil {
				log.Error("error draining NATS", "error", drainErr)
			}
		}()
		fwd = forwarder.New(nc, cfg.NATS.SubjectPrefix)
		healthChecks["nats"] = fwd
		syncOpts.Publisher = fwd
		log.Info("NATS connected", "url", nc.ConnectedUrl(), "prefix", cfg.NATS.SubjectPrefix)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	syncOpts.Broadcaster = hub

	// NaviLink session
	registry := navilink.NewRegistry(log.Component("navilink"))
	coord, err := navilink.NewCoordinator(navilink.CoordinatorOptions{
		Account:            navilink.NewAccountClient(cfg.Navilink.AccountURL, nil),
		Username:           cfg.Navilink.Username,
		Password:           cfg.Navilink.Password,
		PollingInterval:    cfg.GetPollingInterval(),
		MonitoredMACs:      cfg.Navilink.MonitoredMACs,
		SubscribeAllTopics: cfg.Navilink.SubscribeAllTopics,
		Backoff:            cfg.GetBackoff(),
		Dial:               dialTransport(cfg.Navilink.Broker, log.Component("mqtt")),
		Preferences:        preferences,
		Registry:           registry,
		Logger:             log.Component("navilink"),
		Observer:           observer,
	})
	if err != nil {
		return fmt.Errorf("creating navilink coordinator: %w", err)
	}

	// The worker subscribes to the registry before any session exists so
	// the first snapshot of every device is recorded.
	syncOpts.Registry = registry
	worker := statesync.New(syncOpts)
	worker.Start(ctx)
	defer func() {
		log.Info("stopping state sync")
		worker.Stop()
		if dropped := worker.Dropped(); dropped > 0 {
			log.Warn("state updates dropped", "count", dropped)
		}
	}()

	// API server
	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		Devices:      deviceService{coord},
		History:      history,
		Commands:     worker,
		Auth:         auth.NewAuthenticator(cfg.Security, cfg.GetAccessTokenTTL(), nil),
		MetricsPath:  cfg.Metrics.Path,
		HealthChecks: healthChecks,
		ExternalHub:  hub,
		Version:      version,
	}
	if collectors != nil {
		deps.Metrics = collectors.Handler()
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Connect to NaviLink
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting navilink session: %w", err)
	}
	defer func() {
		log.Info("disconnecting from navilink")
		coord.Disconnect()
	}()
	log.Info("navilink session started",
		"gateways", len(coord.Descriptors()),
		"devices", registry.Len(),
		"polling_interval", cfg.GetPollingInterval(),
	)

	healthCtx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	err = healthCheck(healthCtx, healthChecks)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go linkStatusLoop(ctx, coord, hub, fwd, log, linkStatusInterval)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: navilink, API, state sync,
	// NATS, InfluxDB, database.

	log.Info("navilinkd stopped")
	return nil
}

// getConfigPath returns the configuration file path. The flag wins, then
// NAVILINKD_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("NAVILINKD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections in checks.
// The NaviLink link is left out: it reconnects on its own.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// linkStatusSink is where periodic link status goes.
type linkStatusSink interface {
	Broadcast(channel string, payload any)
}

// linkStatusLoop pushes the link status to WebSocket clients and NATS until
// ctx is cancelled. fwd may be nil.
func linkStatusLoop(ctx context.Context, coord interface{ Status() navilink.LinkStatus },
	hub linkStatusSink, fwd *forwarder.Forwarder, log *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := coord.Status()
			hub.Broadcast(forwarder.EventLinkStatus, status)
			if fwd == nil {
				continue
			}
			if err := fwd.PublishLinkStatus(status); err != nil {
				log.Warn("publishing link status failed", "error", err)
			}
		}
	}
}

// hashPassword reads one line from r and writes its Argon2id hash to w,
// ready for security.admin.password_hash.
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password is empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
