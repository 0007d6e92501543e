// farmbridge bridges a smart-farm MQTT broker to a SQL store and an HTTP API.
//
// Sensor rounds and actuator echoes arriving on the broker are persisted and
// fanned out to WebSocket clients; actuator commands issued over HTTP are
// published to the broker and recorded.
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

	"github.com/smartfarm/farmbridge/internal/api"
	"github.com/smartfarm/farmbridge/internal/infrastructure/cache"
	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
	"github.com/smartfarm/farmbridge/internal/infrastructure/database"
	"github.com/smartfarm/farmbridge/internal/infrastructure/influxdb"
	"github.com/smartfarm/farmbridge/internal/infrastructure/logging"
	"github.com/smartfarm/farmbridge/internal/infrastructure/metrics"
	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/ingest"
	"github.com/smartfarm/farmbridge/internal/telemetry"
	"github.com/smartfarm/farmbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "FARMBRIDGE_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown once ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting farmbridge",
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

	repo, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var store telemetry.Store = repo

	// Optional latest-value cache
	cacheClient, err := cache.Connect(ctx, cfg.Cache)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		log.Info("cache disabled")
	case err != nil:
		return fmt.Errorf("connecting to cache: %w", err)
	default:
		defer func() {
			log.Info("closing cache")
			if closeErr := cacheClient.Close(); closeErr != nil {
				log.Error("error closing cache", "error", closeErr)
			}
		}()
		store = telemetry.NewCachingStore(store, cacheClient)
		log.Info("cache connected", "addr", cfg.Cache.Addr)
	}

	// Optional time-series mirror
	var gateway telemetry.Gateway = store
	var influxFailures func() uint64
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("influxdb mirror disabled")
	case err != nil:
		return fmt.Errorf("connecting to influxdb: %w", err)
	default:
		defer func() {
			log.Info("closing influxdb")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(writeErr error) {
			log.Error("influxdb write failed", "error", writeErr)
		})
		gateway = telemetry.NewMirroredGateway(store, influxClient)
		influxFailures = influxClient.WriteFailures
		log.Info("influxdb mirror connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := api.NewHub(cfg.WebSocket, log)
	hub.OnClientCount(m.SetWebSocketClients)
	metrics.RegisterCounter(reg, "websocket", "dropped_events_total",
		"Live-feed events skipped because a client's buffer was full.", hub.Dropped)
	if influxFailures != nil {
		metrics.RegisterCounter(reg, "influxdb", "write_failures_total",
			"Mirror batches rejected by InfluxDB.", influxFailures)
	}
	go hub.Run(ctx)

	router := ingest.NewRouter(ingest.Deps{
		Gateway:         gateway,
		DefaultDeviceID: cfg.Farm.DefaultDeviceID,
		Logger:          log.Component("ingest"),
		Notifier:        hub,
		Observer:        m,
	})

	// The broker connection is built lazily: the first API call that needs
	// it connects, so a missing broker URL or credentials does not block
	// startup.
	provider := mqtt.NewProvider(cfg.MQTT,
		mqtt.WithMessageHandler(router.Handle),
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithObserver(m),
	)
	defer func() {
		log.Info("disconnecting from broker")
		if closeErr := provider.Close(); closeErr != nil {
			log.Error("error disconnecting from broker", "error", closeErr)
		}
	}()
	if st := provider.Get().Status(); !st.Configured {
		log.Warn("mqtt not configured, broker features unavailable until set", "missing", st.Missing)
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log.Component("api"),
		MQTT:     provider,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // Bounded by config validation
		Store:    store,
		Gateway:  gateway,
		Hub:      hub,
		Gatherer: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping api server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, store, cacheClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("farmbridge started",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"database", cfg.Database.Driver,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// openStore opens the configured SQL backend, applies its migrations and
// returns the repository with a close function for the caller to defer.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (telemetry.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, database.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		closeFn := func() {
			log.Info("closing database")
			if closeErr := pool.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}
		if err := pool.Migrate(ctx, migrations.Postgres()); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database connected", "driver", cfg.Driver)
		return telemetry.NewPostgresRepository(pool.Pool), closeFn, nil

	default:
		db, err := database.Open(database.Config{
			Path:        cfg.Path,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		closeFn := func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}
		if err := db.Migrate(ctx, migrations.SQLite()); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database connected", "driver", cfg.Driver, "path", cfg.Path)
		return telemetry.NewSQLiteRepository(db.DB), closeFn, nil
	}
}

// getConfigPath returns the configuration file path, from FARMBRIDGE_CONFIG
// when set.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is satisfied by every component verified at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the store and any enabled optional backends. The
// broker is not checked: it connects on demand.
func healthCheck(ctx context.Context, store healthChecker, cacheClient *cache.Client, influxClient *influxdb.Client) error {
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cacheClient != nil {
		if err := cacheClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
