// Switch Dimmer turns pairs of Home Assistant switch entities into virtual
// dimmers. Presses on the up and down switches are classified as short or
// long and published as device triggers that Home Assistant automations can
// react to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/switch-dimmer/internal/api"
	"github.com/nerrad567/switch-dimmer/internal/bridge"
	"github.com/nerrad567/switch-dimmer/internal/discovery"
	"github.com/nerrad567/switch-dimmer/internal/entity"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/database"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/influxdb"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/logging"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/mqtt"
	"github.com/nerrad567/switch-dimmer/internal/store"
	"github.com/nerrad567/switch-dimmer/internal/switchstate"
	"github.com/nerrad567/switch-dimmer/migrations"
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
	configPathEnv     = "SWITCHDIMMER_CONFIG"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Deferred closes run in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting switch dimmer",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttLog := log.Component("mqtt")
	mqttClient.SetLogger(mqttLog)
	mqttClient.SetOnConnect(func() {
		mqttLog.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT disconnected", "error", err)
	})

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	br, tracker, err := newBridge(cfg, db, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()

	if applyErr := br.Apply(ctx, cfg.Devices); applyErr != nil {
		// Devices that bound are live; the rest are retried on reload.
		log.Warn("initial apply incomplete", "error", applyErr)
	}
	log.Info("bridge started", "devices", len(br.Devices()))

	reload := func(ctx context.Context) error {
		next, loadErr := config.Load(configPath)
		if loadErr != nil {
			return fmt.Errorf("loading config: %w", loadErr)
		}
		log.Info("reloading devices", "path", configPath, "devices", len(next.Devices))
		return br.Apply(ctx, next.Devices)
	}

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Devices:  br,
			Sources:  entity.NewRegistry(db.DB),
			Reloader: api.ReloaderFunc(reload),
			Bus:      mqttClient,
			DB:       db.DB,
			Watches:  tracker,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	reloadAndLog := func(trigger string) {
		if reloadErr := reload(ctx); reloadErr != nil {
			if errors.Is(reloadErr, discovery.ErrPartialReconcile) {
				log.Warn("reload partially applied", "trigger", trigger, "error", reloadErr)
				return
			}
			log.Error("reload failed", "trigger", trigger, "error", reloadErr)
			return
		}
		log.Info("reload complete", "trigger", trigger)
	}

	if cfg.Reload.WatchFile {
		watcher, watchErr := config.Watch(configPath, cfg.GetReloadDebounce(),
			func() { reloadAndLog("file") },
			func(err error) { log.Warn("config watcher error", "error", err) },
		)
		if watchErr != nil {
			// Reload stays available through SIGHUP and the API.
			log.Warn("config file watch unavailable", "error", watchErr)
		} else {
			defer func() {
				log.Info("stopping config watcher")
				if closeErr := watcher.Close(); closeErr != nil {
					log.Error("error closing config watcher", "error", closeErr)
				}
			}()
			log.Info("watching config file", "path", configPath)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	log.Info("initialisation complete, waiting for shutdown signal")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-hup:
			reloadAndLog("sighup")
		}
	}
}

// newBridge builds the bridge and its collaborators. Telemetry is wired
// only when InfluxDB is enabled. The tracker is returned for the API.
func newBridge(cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, *switchstate.Tracker, error) {
	topics := mqtt.Topics{
		DiscoveryPrefix: cfg.Discovery.Prefix,
		StatestreamBase: cfg.Input.StatestreamBase,
	}

	tracker := switchstate.NewTracker(mqttClient, switchstate.Options{
		Topics: topics,
		QoS:    mqttClient.QoS(),
		Logger: log.Component("switchstate"),
	})

	syncer := discovery.NewSyncer(mqttClient, discovery.Options{
		Topics:       topics,
		Manufacturer: cfg.Discovery.Manufacturer,
		Model:        cfg.Discovery.Model,
		QoS:          mqttClient.QoS(),
		Concurrency:  cfg.Discovery.Concurrency,
		Logger:       log.Component("discovery"),
	})

	opts := bridge.Options{
		Syncer:    syncer,
		Store:     store.NewKnownDevices(db.DB),
		Publisher: mqttClient,
		Source:    tracker,
		Hider:     entity.NewRegistry(db.DB),
		Topics:    topics,
		QoS:       mqttClient.QoS(),
		Logger:    log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Actions = influxClient
		opts.Reconciles = influxClient
	}

	br, err := bridge.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return br, tracker, nil
}

// getConfigPath returns the configuration file path.
// Uses SWITCHDIMMER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
