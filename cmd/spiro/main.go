// spiro drives a time-lapse turntable: it rotates four plates under a
// camera, captures each plate on a fixed schedule and serves a browser
// control panel for starting, stopping and watching experiments.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nicolatrozzi/spiro/migrations"

	"github.com/nicolatrozzi/spiro/internal/api"
	"github.com/nicolatrozzi/spiro/internal/auth"
	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/experiment"
	"github.com/nicolatrozzi/spiro/internal/hardware"
	"github.com/nicolatrozzi/spiro/internal/history"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/database"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/influxdb"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/logging"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/mqtt"
	"github.com/nicolatrozzi/spiro/internal/preview"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
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

// run wires every component and blocks until ctx is cancelled. It is
// separate from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting spiro",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, cfg.Instance.Name, version)
	defer log.Close() //nolint:errcheck // best effort on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"config", configPath,
	)

	clk := clock.Real{}

	// Database
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	historyRepo := history.NewSQLiteRepository(db.DB)

	// Camera
	cam, err := camera.New(ctx, cfg.Camera, clk, log.Component("camera"))
	if err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer func() {
		if closeErr := cam.Close(); closeErr != nil {
			log.Error("error closing camera", "error", closeErr)
		}
	}()
	log.Info("camera ready", "backend", cfg.Camera.Backend, "resolution", cam.Resolution())

	// Turntable and LED
	rig, err := hardware.New(cfg.Hardware, clk, log.Component("hardware"))
	if err != nil {
		return fmt.Errorf("opening hardware: %w", err)
	}
	defer func() {
		if closeErr := rig.Close(); closeErr != nil {
			log.Error("error closing hardware", "error", closeErr)
		}
	}()
	log.Info("hardware ready", "backend", cfg.Hardware.Backend)

	hub := api.NewHub(cfg.WebSocket, log)
	deps := experiment.Deps{
		Camera:   cam,
		Rig:      rig,
		Previews: preview.New(experiment.Plates, cfg.Experiment.Thumbnail.Width, cfg.Experiment.Thumbnail.Height),
		Clock:    clk,
		Logger:   log.Component("experiment"),
		Hub:      hub,
		Recorder: historyRepo,
	}
	health := map[string]api.HealthChecker{"database": db}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Instance.Name)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		topics := mqttClient.Topics()
		deps.MQTT = mqttClient
		deps.Topics = experiment.Topics{
			Status:  topics.ExperimentStatus(),
			Capture: topics.ExperimentCapture(),
		}
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Instance.Name)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		deps.Metrics = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	worker, err := experiment.NewWorker(deps, experiment.Options{
		Instance:         cfg.Instance.Name,
		Defaults:         experiment.FromConfig(cfg.Experiment),
		SampleResolution: camera.FromConfig(cfg.Camera.SampleResolution),
		Format:           cfg.Experiment.ImageFormat,
		StepDelay:        cfg.StepDelay(),
		LiveView:         cfg.Camera.LiveView,
	})
	if err != nil {
		return fmt.Errorf("creating experiment worker: %w", err)
	}

	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(mqttClient.Topics().ExperimentCommand(), byte(cfg.MQTT.QoS), worker.HandleCommand); subErr != nil {
			return fmt.Errorf("subscribing to experiment commands: %w", subErr)
		}
	}

	authenticator, err := auth.NewAuthenticator(cfg.Security, cfg.Instance.Name)
	if err != nil {
		return fmt.Errorf("configuring authentication: %w", err)
	}

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Experiment: worker,
		History:    historyRepo,
		Camera:     cam,
		Auth:       authenticator,
		Hub:        hub,
		DB:         db,
		Health:     health,
		PanelDir:   os.Getenv("SPIRO_PANEL_DIR"),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if runErr := worker.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error("experiment worker stopped", "error", runErr)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	// An active run finalises before the hardware is released.
	<-workerDone

	log.Info("spiro stopped")
	return nil
}

// getConfigPath returns SPIRO_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("SPIRO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path, falling back to the built-in defaults when the
// default file does not exist. An explicitly configured path must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.Getenv("SPIRO_CONFIG") != "" || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating default config: %w", err)
	}
	return cfg, nil
}

// healthCheck verifies every registered component once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
