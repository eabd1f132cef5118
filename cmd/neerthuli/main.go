// Neer Thuli identity core.
//
// This is the main entry point for the identity, authorization and
// account-security service. It wires storage, audit, notifications and the
// background sweeps, exposes health and metrics over HTTP, and bootstraps the
// first administrator on an empty store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/benjaminthomas/neer-thuli-main-sub000/migrations"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/api"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/config"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/influxdb"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/logging"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/mqtt"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/metrics"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Neer Thuli",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	optional := make(map[string]api.HealthChecker)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		optional["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
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
		optional["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	auditOpts := []audit.Option{audit.WithObserver(collector)}
	if influxClient != nil {
		auditOpts = append(auditOpts, audit.WithSink(influxClient))
	}
	auditLogger := audit.NewLogger(audit.NewSQLiteRepository(db.DB), log.Component("audit"), auditOpts...)
	asyncAudit := audit.NewAsyncLogger(auditLogger, cfg.Security.Audit.QueueSize, log.Component("audit"), collector)

	dispatcher := notify.NewDispatcher(
		buildNotifier(cfg, mqttClient, log),
		cfg.Notifications.QueueSize,
		cfg.Notifications.Workers,
		log.Component("notify"),
		notify.WithObserver(collector),
	)

	identity := buildCore(cfg, db, auditLogger, asyncAudit, dispatcher, collector, log)

	if cfg.Bootstrap.AdminEmail != "" {
		if err := bootstrap(ctx, cfg, identity); err != nil {
			return fmt.Errorf("bootstrapping: %w", err)
		}
	}

	sweeps := buildSweeper(cfg, identity, auditLogger, collector, influxClient, log)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		Database: db,
		Optional: optional,
		Gatherer: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		asyncAudit.Run(gctx)
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sweeps.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Neer Thuli stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NEERTHULI_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEERTHULI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
