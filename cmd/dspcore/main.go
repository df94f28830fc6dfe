// dspcore - Audio DSP connection and parameter synchronisation engine.
//
// dspcore owns the control and metering links to every audio processor in
// the venue: it keeps TCP control sessions alive through device reboots,
// maintains a confirmed-value parameter cache, ingests UDP meter telemetry,
// and exposes the lot over a REST API, a WebSocket event stream, and an
// optional MQTT event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/graystone-av/dsp-core/migrations"

	"github.com/graystone-av/dsp-core/internal/api"
	"github.com/graystone-av/dsp-core/internal/atlas"
	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/database"
	"github.com/graystone-av/dsp-core/internal/infrastructure/influxdb"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
	"github.com/graystone-av/dsp-core/internal/infrastructure/mqtt"
	"github.com/graystone-av/dsp-core/internal/processor"
	"github.com/graystone-av/dsp-core/internal/scene"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use the default logger until config is loaded.
	log := logging.Default()
	log.Info("starting dspcore",
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

	// Reinitialise the logger with config settings.
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations.
	db, err := database.Open(ctx, database.Config{
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

	// Connect to the MQTT event bus (optional).
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.New(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			mqttClient.Close()
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to the InfluxDB meter archive (optional).
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.New(ctx, cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close()
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub fans events and throttled meter levels out to UI clients.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	fanout := &eventFanout{
		hub:    hub,
		mqtt:   mqttClient,
		influx: influxClient,
		log:    log,
	}

	// One UDP socket ingests meter telemetry from every processor.
	meters := atlas.NewMeterIngestor(atlas.MeterIngestorConfig{
		ListenAddr:      cfg.DSP.MeterListen,
		ClipOnCount:     cfg.DSP.ClipOnCount,
		ClipOffCount:    cfg.DSP.ClipOffCount,
		ArchiveInterval: cfg.DSP.GetArchiveInterval(),
	}, log)
	meters.OnLevels(hub.UpdateMeters)
	meters.OnClip(fanout.clipChanged)
	if influxClient != nil {
		meters.OnArchive(fanout.archiveMeters)
	}
	if startErr := meters.Start(ctx); startErr != nil {
		return fmt.Errorf("starting meter ingestor: %w", startErr)
	}
	defer func() {
		log.Info("closing meter ingestor")
		if closeErr := meters.Close(); closeErr != nil {
			log.Error("error closing meter ingestor", "error", closeErr)
		}
	}()
	log.Info("meter ingestor listening", "addr", cfg.DSP.MeterListen)

	// Processor manager owns one control connection per enabled processor.
	repo := processor.NewSQLiteRepository(db)
	manager := processor.NewManager(cfg.DSP, repo, meters, fanout, log, nil)
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting processor manager: %w", startErr)
	}
	defer func() {
		log.Info("stopping processor manager")
		manager.Close()
	}()
	log.Info("processor manager started", "processors", len(manager.Units()))

	// Scene engine captures and recalls confirmed parameter snapshots.
	scenes := scene.NewEngine(
		scene.NewSQLiteRepository(db),
		scene.NewManagerResolver(manager),
		cfg.DSP.GetRecallStagger(),
		fanout,
		log,
	)

	checkers := map[string]func() error{
		"database": func() error { return db.HealthCheck(ctx) },
	}
	if mqttClient != nil {
		checkers["mqtt"] = func() error {
			if !mqttClient.IsConnected() {
				return mqtt.ErrNotConnected
			}
			return nil
		}
	}
	if influxClient != nil {
		checkers["influxdb"] = func() error { return influxClient.HealthCheck(ctx) }
	}

	router := api.NewRouter(api.Deps{
		Config:         cfg,
		Logger:         log,
		Manager:        manager,
		Scenes:         scenes,
		Meters:         meters,
		Hub:            hub,
		Version:        version,
		HealthCheckers: checkers,
	})
	server := api.NewServer(cfg.API, router, log)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", "error", err)
	}

	log.Info("dspcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DSPCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DSPCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// eventFanout relays domain events to the WebSocket hub and, when enabled,
// the MQTT bus and the InfluxDB archive. Callbacks must not block the
// caller, so archive writes get their own short deadline.
type eventFanout struct {
	hub    *api.Hub
	mqtt   *mqtt.Client
	influx *influxdb.Client
	log    *logging.Logger
}

// ConnectionChanged implements processor.Events.
func (f *eventFanout) ConnectionChanged(processorID, state string) {
	f.hub.BroadcastStatus(processorID, state)
	if f.mqtt != nil {
		if err := f.mqtt.PublishStatus(processorID, state); err != nil {
			f.log.Warn("publishing status event", "processor", processorID, "error", err)
		}
	}
	if f.influx != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := f.influx.WriteConnectionEvent(ctx, processorID, state); err != nil {
				f.log.Warn("archiving connection event", "processor", processorID, "error", err)
			}
		}()
	}
}

// ParamChanged implements processor.Events.
func (f *eventFanout) ParamChanged(processorID, param string, value float64, source string) {
	f.hub.BroadcastParam(processorID, param, value, source)
	if f.mqtt != nil {
		if err := f.mqtt.PublishParam(processorID, param, value, source); err != nil {
			f.log.Warn("publishing param event", "processor", processorID, "param", param, "error", err)
		}
	}
}

// SceneRecalled implements scene.Events.
func (f *eventFanout) SceneRecalled(r scene.RecallResult) {
	f.hub.BroadcastScene(r.ProcessorID, r)
	if f.mqtt != nil {
		failed := make([]string, 0, len(r.Failed))
		for _, fp := range r.Failed {
			failed = append(failed, fp.Name)
		}
		err := f.mqtt.PublishScene(mqtt.SceneEvent{
			ProcessorID: r.ProcessorID,
			SceneID:     r.SceneID,
			SceneName:   r.SceneName,
			Status:      r.Status,
			Failed:      failed,
		})
		if err != nil {
			f.log.Warn("publishing scene event", "scene", r.SceneID, "error", err)
		}
	}
}

// clipChanged relays debounced clip transitions.
func (f *eventFanout) clipChanged(processorID, direction string, index int, clipping bool) {
	f.hub.BroadcastClip(processorID, direction, index, clipping)
	if f.mqtt != nil {
		err := f.mqtt.PublishClip(mqtt.ClipEvent{
			ProcessorID: processorID,
			Direction:   direction,
			Channel:     index,
			Clipping:    clipping,
		})
		if err != nil {
			f.log.Warn("publishing clip event", "processor", processorID, "error", err)
		}
	}
}

// archiveMeters forwards one downsampled batch to the archive.
func (f *eventFanout) archiveMeters(processorID string, levels []atlas.ChannelLevel, ts time.Time) {
	samples := make([]influxdb.MeterSample, 0, len(levels))
	for _, l := range levels {
		samples = append(samples, influxdb.MeterSample{
			ProcessorID: processorID,
			Direction:   l.Direction,
			Index:       l.Index,
			Level:       l.Level,
			Peak:        l.Peak,
			Clip:        l.Clipping,
			Timestamp:   ts,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.influx.WriteMeterBatch(ctx, samples); err != nil {
		f.log.Warn("archiving meter batch", "processor", processorID, "error", err)
	}
}
