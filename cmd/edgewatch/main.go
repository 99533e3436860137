// edgewatch is the device session server.
//
// Edge devices hold a websocket session each; the server records their
// telemetry and detection events, relays commands published on the topic
// bus and notifies device owners.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/edgewatch/edgewatch-core/migrations"

	"github.com/edgewatch/edgewatch-core/internal/api"
	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/database"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/influxdb"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/logging"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/mqtt"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/redis"
	"github.com/edgewatch/edgewatch-core/internal/media"
	"github.com/edgewatch/edgewatch-core/internal/metrics"
	"github.com/edgewatch/edgewatch-core/internal/notify"
	"github.com/edgewatch/edgewatch-core/internal/record"
	"github.com/edgewatch/edgewatch-core/internal/session"
	"github.com/edgewatch/edgewatch-core/internal/worker"
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
	poolStopTimeout   = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Deferred cleanups run in reverse: API, worker pool, bus, sinks, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting edgewatch",
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

	db, err := database.Open(cfg.Database)
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
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Optional telemetry mirror
	var samples record.PerformanceRepository = record.NewSQLitePerformanceRepository(db.DB)
	var events record.EventLogRepository = record.NewSQLiteEventLogRepository(db.DB)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		samples = record.NewMirroredPerformanceRepository(samples, influxClient)
		events = record.NewMirroredEventLogRepository(events, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	topicBus, closeBus, err := openBus(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer closeBus()

	sink, err := media.New(ctx, cfg.Media, cfg.Site.BaseURL)
	if err != nil {
		return fmt.Errorf("creating media sink: %w", err)
	}
	log.Info("media sink ready", "driver", cfg.Media.Driver)

	// A nil Mailer interface disables email; never pass a typed nil.
	var mailer notify.Mailer
	if cfg.Email.Enabled {
		mailer = notify.NewSMTPMailer(cfg.Email)
		log.Info("email notifications enabled", "host", cfg.Email.Host)
	}

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.QueueSize, m)
	if startErr := pool.Start(); startErr != nil {
		return fmt.Errorf("starting worker pool: %w", startErr)
	}
	defer func() {
		log.Info("stopping worker pool")
		if stopErr := pool.Stop(poolStopTimeout); stopErr != nil {
			log.Error("error stopping worker pool", "error", stopErr)
		}
	}()

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), cfg.GetSnapshotTTL())
	registry.SetLogger(log.With("component", "device"))

	dispatcher := notify.NewDispatcher(device.NewSQLiteUserRepository(db.DB), topicBus, mailer, m)
	dispatcher.SetLogger(log.With("component", "notify"))

	gateway, err := session.NewGateway(session.Deps{
		Devices:  registry,
		Samples:  samples,
		Events:   events,
		Media:    sink,
		Notifier: dispatcher,
		Bus:      topicBus,
		Pool:     pool,
		Metrics:  m,
	}, session.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("creating session gateway: %w", err)
	}
	gateway.SetLogger(log.With("component", "session"))

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Media:    cfg.Media,
		Logger:   log.With("component", "api"),
		Gateway:  gateway,
		Bus:      topicBus,
		DB:       db,
		Pool:     pool,
		Gatherer: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"bus", cfg.Bus.Driver,
		"session_policy", cfg.Session.Policy,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openBus builds the Topic Bus selected by cfg.Bus.Driver. The returned
// cleanup closes the bus before its transport.
func openBus(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (bus.Bus, func(), error) {
	opts := bus.Options{
		MailboxSize:     cfg.Bus.Mailbox,
		DeliveryTimeout: cfg.GetBusDeliveryTimeout(),
		Logger:          log.With("component", "bus"),
		Metrics:         m,
	}

	switch cfg.Bus.Driver {
	case config.BusDriverMQTT:
		client, err := mqtt.Connect(cfg.MQTT, cfg.Bus.TopicPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() { log.Info("MQTT reconnected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		b := bus.NewMQTT(client, opts)
		return b, func() {
			log.Info("closing MQTT bus")
			if err := b.Close(); err != nil {
				log.Error("error closing MQTT bus", "error", err)
			}
			if err := client.Close(); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		}, nil

	case config.BusDriverRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("Redis connected", "mode", cfg.Redis.Mode, "addrs", cfg.Redis.Addrs)

		b := bus.NewRedis(ctx, client, cfg.Bus.TopicPrefix, opts)
		return b, func() {
			log.Info("closing Redis bus")
			if err := b.Close(); err != nil {
				log.Error("error closing Redis bus", "error", err)
			}
			if err := client.Close(); err != nil {
				log.Error("error closing Redis", "error", err)
			}
		}, nil

	default:
		b := bus.NewMemory(opts)
		log.Info("in-process bus ready")
		return b, func() {
			if err := b.Close(); err != nil {
				log.Error("error closing bus", "error", err)
			}
		}, nil
	}
}

// getConfigPath returns EDGEWATCH_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("EDGEWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. influxClient may be nil.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
