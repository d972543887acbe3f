// litecore - embedded SQLite execution core
//
// This is the main entry point for the litecore daemon. It opens the
// database behind a single-writer executor, applies migrations, and
// optionally:
//   - serves health, stats, Prometheus metrics and a change stream over HTTP
//   - forwards committed change events to an MQTT broker
//   - writes executor telemetry to InfluxDB
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/litecore/internal/api"
	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/extension"
	"github.com/nerrad567/litecore/internal/infrastructure/config"
	"github.com/nerrad567/litecore/internal/infrastructure/influxdb"
	"github.com/nerrad567/litecore/internal/infrastructure/logging"
	"github.com/nerrad567/litecore/internal/infrastructure/mqtt"
	"github.com/nerrad567/litecore/internal/metrics"
	"github.com/nerrad567/litecore/internal/migrate"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlval"
	"github.com/nerrad567/litecore/internal/telemetry"
	"github.com/nerrad567/litecore/migrations"
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

// errStartupQuery reports an unexpected result from the startup check query.
var errStartupQuery = errors.New("startup query returned an unexpected result")

// statsCacheAge bounds how often a Prometheus scrape takes an engine snapshot.
const statsCacheAge = time.Second

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
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting litecore",
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

	var observers []executor.Observer

	// Prometheus registry (only exposed when the ops listener is enabled)
	var promReg *prometheus.Registry
	if cfg.HTTP.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observers = append(observers, metrics.New(promReg))
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetTag("database", filepath.Base(cfg.Database.Path))
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the engine
	engCfg, err := engineConfig(cfg, telemetry.Combine(observers...), log)
	if err != nil {
		return err
	}
	eng, err := engine.Open(ctx, engCfg, extension.NewDefaultRegistry())
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer func() {
		log.Info("closing engine")
		if closeErr := eng.Close(); closeErr != nil {
			log.Error("error closing engine", "error", closeErr)
		}
	}()
	log.Info("engine opened",
		"path", cfg.Database.Path,
		"readers", engCfg.Pool.Readers,
		"capture", !engCfg.DisableCapture,
		"row_snapshots", changes.RowSnapshots,
	)
	if !engCfg.DisableCapture && !changes.RowSnapshots.HasBefore() {
		log.Warn("update and delete events carry no before row; build with -tags sqlite_preupdate_hook to capture it")
	}

	// Run migrations
	var instance string
	if cfg.Migrations.Enabled {
		started := time.Now()
		applied, migrateErr := migrate.New(eng, migrationSource(cfg.Migrations), ".", log.Logger).Up(ctx)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete", "applied", applied)
		if influxClient != nil {
			influxClient.MigrationsApplied(applied, time.Since(started))
		}

		if id, idErr := instanceID(ctx, eng); idErr != nil {
			log.Warn("instance id unavailable", "error", idErr)
		} else {
			instance = id
			log = log.With("instance_id", id)
			if influxClient != nil {
				influxClient.SetTag("instance_id", id)
			}
		}
	}

	if promReg != nil {
		metrics.WatchEngine(promReg, eng, statsCacheAge)
	}

	// Start ops listener (optional)
	if cfg.HTTP.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.HTTP,
			Logger:   log,
			Engine:   eng,
			Gatherer: promReg,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating ops server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting ops server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing ops server", "error", closeErr)
			}
		}()
	} else {
		log.Info("ops listener disabled")
	}

	// Connect to MQTT broker and forward change events (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Identity{InstanceID: instance, Version: version})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if promReg != nil {
			metrics.WatchPublisher(promReg, mqttClient)
		}
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		fwdCfg, fwdErr := forwarderConfig(cfg.MQTT, log)
		if fwdErr != nil {
			return fwdErr
		}
		fwd, fwdErr := changes.NewForwarder(eng.Hub(), mqttClient, fwdCfg)
		if fwdErr != nil {
			return fmt.Errorf("creating change forwarder: %w", fwdErr)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return fwd.Run(gctx) })
		defer func() {
			fwd.Close()
			if waitErr := g.Wait(); waitErr != nil {
				log.Error("change forwarder stopped", "error", waitErr)
			}
			st := fwd.Stats()
			pubSt := mqttClient.Stats()
			log.Info("change forwarder stopped",
				"forwarded", st.Forwarded,
				"failures", st.Failures,
				"skipped", st.Skipped,
				"mqtt_published", pubSt.Published,
				"mqtt_failed", pubSt.Failed,
			)
		}()
	} else {
		log.Info("MQTT forwarding disabled")
	}

	// Periodic engine snapshots to InfluxDB
	if influxClient != nil {
		reporter := telemetry.NewReporter(telemetry.ReporterConfig{
			Interval: cfg.GetReportInterval(),
			Source:   eng,
			Sink:     influxClient,
			Logger:   log.Logger,
		})
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	if err := healthCheck(ctx, eng, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: reporter, forwarder,
	// MQTT, ops listener, engine, InfluxDB.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LITECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LITECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// engineConfig maps the file configuration onto the engine's.
func engineConfig(cfg *config.Config, obs executor.Observer, log *logging.Logger) (engine.Config, error) {
	policy, err := changes.ParsePolicy(cfg.Changes.Overflow)
	if err != nil {
		return engine.Config{}, fmt.Errorf("changes.overflow: %w", err)
	}

	// The file's 0 means "never retry"; the executor's 0 means its default.
	conflictRetries := cfg.Transactions.ConflictRetries
	if conflictRetries == 0 {
		conflictRetries = -1
	}

	exclude := append([]string{migrate.LedgerTable}, cfg.Changes.ExcludeTables...)

	return engine.Config{
		Pool: pool.Config{
			Path:               cfg.Database.Path,
			Readers:            cfg.Pool.Readers,
			BusyTimeout:        cfg.Database.BusyTimeout,
			WALMode:            cfg.Database.WALMode,
			ForeignKeys:        cfg.Database.ForeignKeys,
			Synchronous:        cfg.Database.Synchronous,
			CacheSizeKB:        cfg.Database.CacheSizeKB,
			StatementCacheSize: cfg.Pool.StatementCacheSize,
			AcquireTimeout:     cfg.Pool.AcquireTimeout,
		},
		Executor: executor.Config{
			Retry: executor.RetryPolicy{
				MaxAttempts:    cfg.Executor.Retry.MaxAttempts,
				InitialBackoff: cfg.Executor.Retry.InitialBackoff,
				MaxBackoff:     cfg.Executor.Retry.MaxBackoff,
				Multiplier:     cfg.Executor.Retry.Multiplier,
			},
			ConflictRetries: conflictRetries,
			Observer:        obs,
		},
		Changes: changes.Config{
			QueueCapacity: cfg.Changes.QueueCapacity,
			Overflow:      policy,
			ExcludeTables: exclude,
		},
		DisableCapture: !cfg.Changes.Enabled,
		DefaultTimeout: cfg.Executor.DefaultTimeout,
		Logger:         log.Logger,
	}, nil
}

// forwarderConfig maps the MQTT section onto the change forwarder's.
func forwarderConfig(cfg config.MQTTConfig, log *logging.Logger) (changes.ForwarderConfig, error) {
	codec, err := changes.ParseCodec(cfg.Codec)
	if err != nil {
		return changes.ForwarderConfig{}, fmt.Errorf("mqtt.codec: %w", err)
	}
	return changes.ForwarderConfig{
		Topics:       mqtt.Topics{Prefix: cfg.TopicPrefix},
		QoS:          byte(cfg.QoS), //nolint:gosec // Validated to 0-2
		Filter:       changes.Filter{Tables: cfg.Tables},
		Codec:        codec,
		RetryInitial: time.Duration(cfg.Reconnect.InitialDelay) * time.Second,
		RetryMax:     time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
		Logger:       log.Logger,
	}, nil
}

// migrationSource returns the configured migration directory, or the
// migrations compiled into the binary.
func migrationSource(cfg config.MigrationsConfig) fs.FS {
	if cfg.Dir != "" {
		return os.DirFS(cfg.Dir)
	}
	return migrations.FS
}

// instanceID reads the identifier seeded by the metadata migration.
func instanceID(ctx context.Context, eng *engine.Engine) (string, error) {
	rs, err := eng.Query(ctx, "SELECT value FROM litecore_meta WHERE key = 'instance_id'", nil)
	if err != nil {
		return "", err
	}
	if !rs.Next() {
		return "", errors.New("instance_id not set")
	}
	id, _ := rs.Row().At(0).Text()
	return id, nil
}

// healthCheck verifies the engine and every enabled connection.
func healthCheck(ctx context.Context, eng *engine.Engine, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	rs, err := eng.Query(ctx, "SELECT 1", nil)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if !rs.Next() {
		return fmt.Errorf("engine: %w", errStartupQuery)
	}
	if v := rs.Row().At(0); !v.Equal(sqlval.Integer(1)) {
		return fmt.Errorf("engine: %w: got %v", errStartupQuery, v)
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
