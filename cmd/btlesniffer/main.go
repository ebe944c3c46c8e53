// btlesniffer is a node agent for a distributed crowd-density network.
//
// It scans for Bluetooth Low Energy advertisers through BlueZ, keeps an
// in-memory registry of unique devices, attempts rate-limited connections to
// devices whose signal crosses the threshold, and publishes every attempt as a
// sighting to the local store, MQTT, InfluxDB and the status API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nerrad567/btlesniffer/internal/api"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/database"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/influxdb"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/logging"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/mqtt"
	"github.com/nerrad567/btlesniffer/internal/radio/bluez"
	"github.com/nerrad567/btlesniffer/internal/registry"
	"github.com/nerrad567/btlesniffer/internal/sink"
	"github.com/nerrad567/btlesniffer/internal/sniffer"
	"github.com/nerrad567/btlesniffer/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Process exit codes.
const (
	exitOK         = 0
	exitFatal      = 1
	exitInvalidArg = 2
)

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(exitOK)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInvalidArg)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, opts)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps the result of run onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalidArgument):
		return exitInvalidArg
	default:
		return exitFatal
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a signal-initiated shutdown.
func run(ctx context.Context, opts *options) error {
	// Use default logger until config is loaded
	log := logging.Default()

	configPath, err := resolveConfigPath(opts.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Apply(opts.overrides()); err != nil {
		return fmt.Errorf("applying command-line flags: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version, cfg.Node.ID)
	log.Info("starting btlesniffer",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
		"threshold_rssi", cfg.Scanner.ThresholdRSSI,
		"minimum_interval", cfg.Scanner.MinimumInterval,
	)

	// Acquire the radio before any sink connects.
	radio := bluez.New(bluez.Config{
		Adapter:          cfg.BlueZ.Adapter,
		ClearDeviceCache: cfg.BlueZ.ClearDeviceCache,
		ReadDeviceInfo:   cfg.BlueZ.ReadDeviceInfo,
	})
	radio.SetLogger(log.With("component", "bluez"))
	if err := radio.Open(ctx); err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	closeRadio := sync.OnceFunc(func() {
		log.Info("closing radio")
		if closeErr := radio.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	})
	defer closeRadio()

	infra, err := openInfrastructure(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if err := infra.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	reg := registry.New()
	reg.SetLogger(log.With("component", "registry"))

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
		go hub.Run(ctx)
	}

	attempter := sniffer.NewAttempter(radio, reg, infra.publisher(hub), sniffer.AttempterConfig{
		NodeID:            cfg.Node.ID,
		ConnectTimeout:    cfg.Scanner.ConnectTimeout,
		MaxConcurrent:     cfg.Scanner.MaxConcurrentAttempts,
		AttemptsPerSecond: cfg.Scanner.AttemptsPerSecond,
		Burst:             cfg.Scanner.AttemptBurst,
	})
	attempter.SetLogger(log.With("component", "attempter"))

	reporter := sniffer.NewHealthReporter(sniffer.HealthReporterConfig{
		NodeID:    cfg.Node.ID,
		Version:   version,
		Interval:  cfg.Scanner.HealthInterval,
		Registry:  reg,
		Attempter: attempter,
		Sinks:     infra.healthSinks(hub),
	})
	reporter.SetLogger(log.With("component", "health"))
	reporter.Start(ctx)
	defer reporter.Stop()

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Registry: reg,
			Health:   reporter,
			Hub:      hub,
			Version:  version,
		}
		if infra.store != nil {
			deps.Store = infra.store
		}
		server, serverErr := api.New(deps)
		if serverErr != nil {
			return fmt.Errorf("creating API server: %w", serverErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", server.Addr())
	}

	snf := sniffer.New(radio, reg, attempter, sniffer.Config{
		ThresholdRSSI:   cfg.Scanner.ThresholdRSSI,
		MinimumInterval: cfg.Scanner.MinimumInterval,
		EvictAfter:      cfg.Scanner.EvictAfter,
	})
	snf.SetLogger(log.With("component", "sniffer"))

	log.Info("initialisation complete, scanning")

	// Run returns after in-flight attempts have recorded their outcome.
	runErr := snf.Run(ctx)

	// Shutdown order: radio, then health and sinks via the defer chain.
	closeRadio()

	if runErr != nil {
		log.Error("scan loop stopped", "error", runErr)
		return fmt.Errorf("scan loop: %w", runErr)
	}

	stats := attempter.Stats()
	log.Info("btlesniffer stopped",
		"devices", reg.Count(),
		"attempts", stats.Attempts,
		"successes", stats.Successes,
	)
	return nil
}

// infrastructure holds the optional sighting sinks opened at startup.
type infrastructure struct {
	nodeID string
	log    *logging.Logger

	db     *database.DB
	store  *sink.Store
	mqtt   *mqtt.Client
	influx *influxdb.Client
}

// openInfrastructure connects every enabled sink. On error, whatever was
// already opened is closed again.
func openInfrastructure(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *infrastructure, err error) {
	infra := &infrastructure{nodeID: cfg.Node.ID, log: log}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	if cfg.Database.Enabled {
		infra.db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		log.Info("database connected", "path", cfg.Database.Path)

		if err = infra.db.Migrate(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		infra.store = sink.NewStore(infra.db)
	} else {
		log.Info("local sighting store disabled")
	}

	if cfg.MQTT.Enabled {
		infra.mqtt, err = mqtt.Connect(cfg.MQTT, cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		infra.mqtt.SetLogger(log.With("component", "mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)

		info := newNodeInfo(cfg, version)
		publishInfo := func() {
			if pubErr := infra.mqtt.PublishJSON(mqtt.Topics{}.NodeInfo(cfg.Node.ID), info, true); pubErr != nil {
				log.Warn("publishing node info failed", "error", pubErr)
			}
		}
		// The first OnConnect may have fired before the callback was set.
		infra.mqtt.SetOnConnect(publishInfo)
		publishInfo()
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		infra.influx, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		infra.influx.SetOnError(func(writeErr error) {
			log.Error("InfluxDB write error", "error", writeErr)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	return infra, nil
}

// publisher builds the sighting fan-out over every enabled sink. hub may be nil.
func (i *infrastructure) publisher(hub *api.Hub) sink.Publisher {
	var pubs []sink.Publisher
	if i.store != nil {
		pubs = append(pubs, i.store)
	}
	if i.mqtt != nil {
		pubs = append(pubs, sink.NewMQTTPublisher(i.mqtt))
	}
	if i.influx != nil {
		pubs = append(pubs, sink.NewInfluxPublisher(i.influx))
	}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	return sink.NewFanout(pubs...)
}

// healthSinks returns the destinations for periodic node health. hub may be nil.
func (i *infrastructure) healthSinks(hub *api.Hub) []sniffer.HealthSink {
	var sinks []sniffer.HealthSink
	if i.mqtt != nil {
		client := i.mqtt
		sinks = append(sinks, sniffer.HealthSinkFunc(func(_ context.Context, h sniffer.Health) error {
			return client.PublishJSON(mqtt.Topics{}.NodeHealth(i.nodeID), h, false)
		}))
	}
	if i.influx != nil {
		client := i.influx
		sinks = append(sinks, sniffer.HealthSinkFunc(func(_ context.Context, h sniffer.Health) error {
			client.WriteNodeHealth(influxdb.HealthSample{
				Devices:   h.Devices,
				Pending:   h.Pending,
				Attempts:  h.Attempts,
				Successes: h.Successes,
				Uptime:    h.Uptime(),
			})
			return nil
		}))
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	return sinks
}

// healthCheck verifies every enabled connection.
func (i *infrastructure) healthCheck(ctx context.Context) error {
	if i.db != nil {
		if err := i.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if i.mqtt != nil {
		if err := i.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if i.influx != nil {
		if err := i.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the sinks in reverse order of opening.
func (i *infrastructure) Close() {
	if i.influx != nil {
		i.log.Info("closing InfluxDB connection")
		if err := i.influx.Close(); err != nil {
			i.log.Error("error closing InfluxDB", "error", err)
		}
		i.influx = nil
	}
	if i.mqtt != nil {
		i.log.Info("disconnecting from MQTT")
		if err := i.mqtt.Close(); err != nil {
			i.log.Error("error closing MQTT", "error", err)
		}
		i.mqtt = nil
	}
	if i.db != nil {
		i.log.Info("closing database")
		if err := i.db.Close(); err != nil {
			i.log.Error("error closing database", "error", err)
		}
		i.db = nil
		i.store = nil
	}
}
