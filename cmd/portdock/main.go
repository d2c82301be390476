// Portdock - Portable Storage Device Registry
//
// This is the main entry point for the portdock daemon. Portdock tracks
// removable and portable storage devices across discovery backends, remembers
// the ones the user has named, and brokers filesystem sessions to them. It
// exposes the registry over a REST API with WebSocket change notifications,
// and can optionally mirror events to MQTT and InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guker/portdock/internal/api"
	"github.com/guker/portdock/internal/connection"
	"github.com/guker/portdock/internal/device"
	"github.com/guker/portdock/internal/discovery"
	"github.com/guker/portdock/internal/infrastructure/config"
	"github.com/guker/portdock/internal/infrastructure/database"
	"github.com/guker/portdock/internal/infrastructure/influxdb"
	"github.com/guker/portdock/internal/infrastructure/logging"
	"github.com/guker/portdock/internal/infrastructure/mqtt"
	"github.com/guker/portdock/internal/tasks"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting portdock",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
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

	if schemaErr := db.EnsureSchema(ctx); schemaErr != nil {
		return fmt.Errorf("preparing database schema: %w", schemaErr)
	}

	// Task tracker and session factory. The filesystem backend scans newly
	// persisted devices, reporting progress through the task tracker.
	taskManager := tasks.NewManager()
	factory := device.NewFactory()
	factory.SetLogger(log)
	connection.RegisterFilesystem(factory, taskManager, log)

	// Device registry
	repo := device.NewSQLiteRepository(db.DB)
	manager := device.NewManager(repo, factory)
	manager.SetLogger(log)
	manager.SetOnError(func(err error) {
		log.Error("device registry error", "error", err)
	})

	if loadErr := manager.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry loaded", "devices", manager.Len())

	// Overlay task progress onto the registry rows
	overlay := device.NewOverlay(manager, taskSource{tm: taskManager})
	taskManager.OnChange(overlay.Refresh)

	// WebSocket hub is created here (rather than inside the API server) so
	// registry changes can be broadcast regardless of API startup order.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	taskManager.OnChange(func() {
		hub.Broadcast(api.ChannelTasksChanged, taskManager.Tasks())
	})

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

		if subErr := subscribeCommands(mqttClient, manager, byte(cfg.MQTT.QoS), log); subErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", subErr)
		}
	} else {
		log.Info("MQTT disabled")
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

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Fan registry changes out to the hub, MQTT, and InfluxDB. This observer
	// runs under the registry lock, so anything that might block or call back
	// into the registry is dispatched to a goroutine.
	qos := byte(cfg.MQTT.QoS)
	manager.SubscribeChanges(func(c device.Change) {
		hub.Broadcast(api.ChannelDeviceChanged, c)

		if mqttClient != nil || influxClient != nil {
			go publishChange(c, manager, mqttClient, influxClient, qos, log)
		}
	})

	// Registry errors now also reach the MQTT event topic.
	if mqttClient != nil {
		topics := mqtt.Topics{}
		manager.SetOnError(func(err error) {
			log.Error("device registry error", "error", err)
			go func() {
				payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
				if marshalErr != nil {
					return
				}
				if pubErr := mqttClient.Publish(topics.DeviceEvent("error"), payload, qos, false); pubErr != nil {
					log.Warn("publishing error event", "error", pubErr)
				}
			}()
		})
	}

	// Sample task progress into the activity history.
	if influxClient != nil {
		taskManager.OnChange(func() {
			for _, t := range taskManager.Tasks() {
				influxClient.WritePoint("task_progress",
					map[string]string{"task": t.Name},
					map[string]interface{}{
						"progress":     t.Progress,
						"progress_max": t.ProgressMax,
					})
			}
		})
	}

	// Start the removable-drive poller (if enabled)
	if cfg.Discovery.Removable.Enabled {
		lister := discovery.NewRemovableLister(discovery.Config{
			PollInterval:  cfg.GetPollInterval(),
			MountPrefixes: cfg.Discovery.Removable.MountPrefixes,
		}, log)
		if addErr := manager.AddLister(ctx, lister); addErr != nil {
			return fmt.Errorf("starting removable-drive discovery: %w", addErr)
		}
		log.Info("removable-drive discovery started",
			"poll_interval", cfg.GetPollInterval(),
		)
	} else {
		log.Info("removable-drive discovery disabled")
	}

	// Start the API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Manager:     manager,
		Tasks:       taskManager,
		ExternalHub: hub,
		Version:     version,
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

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("portdock stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PORTDOCK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PORTDOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// taskSource adapts the task tracker to the registry's progress overlay.
type taskSource struct {
	tm *tasks.Manager
}

func (s taskSource) Tasks() []device.Task {
	snapshot := s.tm.Tasks()
	out := make([]device.Task, len(snapshot))
	for i, t := range snapshot {
		out[i] = device.Task{
			ID:          t.ID,
			Progress:    t.Progress,
			ProgressMax: t.ProgressMax,
		}
	}
	return out
}

// publishChange mirrors a registry change to MQTT and InfluxDB.
// Runs outside the registry lock so it can query the registry for row state.
func publishChange(c device.Change, manager *device.Manager, mqttClient *mqtt.Client, influxClient *influxdb.Client, qos byte, log *logging.Logger) {
	topics := mqtt.Topics{}

	if mqttClient != nil {
		payload, err := json.Marshal(c)
		if err != nil {
			log.Error("marshalling change event", "error", err)
			return
		}
		if err := mqttClient.Publish(topics.DeviceEvent(string(c.Kind)), payload, qos, false); err != nil {
			log.Warn("publishing change event", "error", err)
		}
	}

	if influxClient != nil {
		influxClient.WriteDeviceEvent(c.Key, string(c.Kind))
	}

	// On state transitions, publish the full row as retained device state
	// and sample its storage usage.
	if c.Kind != device.ChangeConnected && c.Kind != device.ChangeDisconnected {
		return
	}

	row := manager.RowForKey(c.Key)
	if row == -1 {
		return
	}
	info, err := manager.Info(row)
	if err != nil {
		return
	}

	if mqttClient != nil {
		payload, err := json.Marshal(info)
		if err != nil {
			log.Error("marshalling device state", "error", err)
			return
		}
		if err := mqttClient.Publish(topics.DeviceState(c.Key), payload, qos, true); err != nil {
			log.Warn("publishing device state", "error", err)
		}
	}

	if influxClient != nil && c.Kind == device.ChangeConnected {
		if free, ok := manager.FreeSpace(row); ok {
			influxClient.WriteStorageReading(c.Key, info.CapacityBytes, free)
		}
	}
}

// subscribeCommands wires the MQTT command topic to registry operations.
// Topic shape: portdock/command/{action}/{key}.
func subscribeCommands(client *mqtt.Client, manager *device.Manager, qos byte, log *logging.Logger) error {
	topics := mqtt.Topics{}

	return client.Subscribe(topics.AllCommands(), qos, func(topic string, _ []byte) error {
		parts := strings.Split(topic, "/")
		if len(parts) != 4 {
			return fmt.Errorf("malformed command topic %q", topic)
		}
		action, key := parts[2], parts[3]

		row := manager.RowForKey(key)
		if row == -1 {
			log.Warn("command for unknown device", "action", action, "key", key)
			return nil
		}

		var err error
		switch action {
		case "connect":
			_, err = manager.Connect(context.Background(), row)
		case "disconnect":
			err = manager.Disconnect(row)
		case "forget":
			err = manager.Forget(context.Background(), row)
		case "unmount":
			err = manager.Unmount(row)
		default:
			return fmt.Errorf("unknown command action %q", action)
		}
		if err != nil {
			log.Warn("command failed", "action", action, "key", key, "error", err)
		}
		return err
	})
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
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
