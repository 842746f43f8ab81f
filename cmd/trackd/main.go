package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"rtls-stream/internal/config"
	"rtls-stream/internal/database/influx"
	"rtls-stream/internal/database/postgres"
	"rtls-stream/internal/database/postgres/repositories"
	"rtls-stream/internal/logger"
	"rtls-stream/internal/models"
	"rtls-stream/internal/mq"
	"rtls-stream/internal/scene"
	"rtls-stream/internal/services"
	"rtls-stream/internal/stream"
	"rtls-stream/internal/subscription"
	"rtls-stream/internal/tags"
)

type Application struct {
	config *config.Config

	postgresDB *postgres.PostgresDB
	influxDB   *influx.InfluxDB

	zoneRepository   *repositories.ZoneRepository
	deviceRepository *repositories.DeviceRepository
	statsWriter      *influx.StatsWriter

	mqttClient    *mq.Client
	topicManager  *mq.TopicManager
	tagPublisher  *mq.TagPublisher
	sceneRenderer *mq.SceneRenderer

	processor    *tags.Processor
	builder      *subscription.Builder
	synchronizer *scene.Synchronizer

	trackingService *services.TrackingService
	streamManager   *stream.Manager

	shutdownChan chan os.Signal
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

func main() {
	app := &Application{}

	if err := app.initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := app.run(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}

func (app *Application) initialize() error {
	var err error

	app.config, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logger.NewLogger(app.config.Logger)
	log.Info().
		Str("component", "main").
		Str("version", app.config.Service.Version).
		Msg("Setting up service...")

	app.ctx, app.cancelFunc = context.WithCancel(context.Background())
	app.shutdownChan = make(chan os.Signal, 1)
	signal.Notify(app.shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.initializeDatabases(); err != nil {
		return fmt.Errorf("error while initializing databases: %w", err)
	}

	if err := app.initializeMQTT(); err != nil {
		return fmt.Errorf("error while initializing MQTT: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return fmt.Errorf("error while initializing repositories: %w", err)
	}

	if err := app.initializePipeline(); err != nil {
		return fmt.Errorf("error while initializing pipeline: %w", err)
	}

	if err := app.initializeStream(); err != nil {
		return fmt.Errorf("error while initializing stream: %w", err)
	}

	log.Info().Msg("Successfully initialized application")
	return nil
}

func (app *Application) initializeDatabases() error {
	var err error

	app.postgresDB, err = postgres.NewConnection(app.config.Postgres)
	if err != nil {
		return fmt.Errorf("could not connect to PostgreSQL: %w", err)
	}

	app.influxDB, err = influx.NewConnection(&app.config.InfluxDB)
	if err != nil {
		return fmt.Errorf("could not connect to InfluxDB: %w", err)
	}

	log.Info().
		Str("component", "main").
		Str("host", app.config.Postgres.Host).
		Msg("Successfully initialized databases")
	return nil
}

func (app *Application) initializeMQTT() error {
	var err error

	app.topicManager = mq.NewTopicManager(app.config.MQTT.BaseTopic)

	app.mqttClient, err = mq.NewClient(app.config.MQTT, logger.GetLogger("mq-client"))
	if err != nil {
		return fmt.Errorf("could not create MQTT client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	if err := app.mqttClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("could not connect to MQTT broker: %w", err)
	}

	app.tagPublisher = mq.NewTagPublisher(app.mqttClient, app.topicManager, logger.GetLogger("tag-publisher"))
	app.sceneRenderer = mq.NewSceneRenderer(app.mqttClient, app.topicManager, logger.GetLogger("scene-renderer"))

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized MQTT client")
	return nil
}

func (app *Application) initializeRepositories() error {
	db := app.postgresDB.GetDB()

	app.zoneRepository = repositories.NewZoneRepository(db)
	app.deviceRepository = repositories.NewDeviceRepository(db)
	app.statsWriter = influx.NewStatsWriter(app.influxDB.GetWriteAPI(), logger.GetLogger("stats-writer"))

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized repositories")
	return nil
}

func (app *Application) initializePipeline() error {
	app.processor = tags.NewProcessor(
		app.config.Processor,
		app.config.Subscription.RootZoneID,
		logger.GetLogger("tag-processor"),
	)

	app.builder = subscription.NewBuilder(
		app.config.Subscription,
		app.zoneRepository,
		logger.GetLogger("subscription-builder"),
	)

	app.synchronizer = scene.NewSynchronizer(
		app.config.Scene,
		app.loadSceneBounds(),
		app.sceneRenderer,
		app.processor,
		logger.GetLogger("scene-synchronizer"),
	)

	app.trackingService = services.NewTrackingService(
		app.config,
		app.processor,
		app.builder,
		app.synchronizer,
		app.deviceRepository,
		app.tagPublisher,
		app.statsWriter,
		logger.GetLogger("tracking-service"),
	)

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized pipeline")
	return nil
}

// loadSceneBounds reads the root zone's extents from the registry. A
// missing root zone is survivable; the default extents keep the scene
// usable until the registry catches up.
func (app *Application) loadSceneBounds() models.SpatialBounds {
	ctx, cancel := context.WithTimeout(app.ctx, 10*time.Second)
	defer cancel()

	zone, err := app.zoneRepository.FindByZoneID(ctx, app.config.Subscription.RootZoneID)
	if err != nil {
		log.Warn().Err(err).
			Int("zone_id", app.config.Subscription.RootZoneID).
			Msg("Could not load root zone bounds, using defaults")
		return models.SpatialBounds{MaxX: 254, MaxY: 304, MaxZ: 60}
	}

	bounds := zone.Bounds()
	if err := bounds.Validate(); err != nil || bounds.Width() <= 0 || bounds.Depth() <= 0 {
		log.Warn().Err(err).
			Int("zone_id", zone.ZoneID).
			Msg("Root zone has degenerate bounds, using defaults")
		return models.SpatialBounds{MaxX: 254, MaxY: 304, MaxZ: 60}
	}
	return bounds
}

func (app *Application) initializeStream() error {
	app.streamManager = stream.NewManager(
		app.config.Stream,
		app.trackingService,
		stream.NewWebSocketDialer(app.config.Stream.ConnectTimeout),
		logger.GetLogger("stream-manager"),
	)

	app.streamManager.OnMessage(app.trackingService.HandleReport)
	app.streamManager.OnStateChange(app.trackingService.HandleStateChange)

	log.Info().
		Str("component", "main").
		Str("url", app.config.Stream.URL()).
		Msg("Successfully initialized stream manager")
	return nil
}

func (app *Application) run() error {
	app.trackingService.Start()
	app.streamManager.Connect()

	select {
	case sig := <-app.shutdownChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-app.ctx.Done():
		log.Info().Msg("context cancelled, shutting down application")
	}

	return app.shutdown()
}

func (app *Application) shutdown() error {
	if app.streamManager != nil {
		app.streamManager.Disconnect()
	}

	if app.trackingService != nil {
		app.trackingService.Stop()
	}

	if app.mqttClient != nil {
		app.mqttClient.Disconnect()
	}

	if app.influxDB != nil {
		app.influxDB.Close()
	}

	if app.postgresDB != nil {
		if err := app.postgresDB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing PostgreSQL connection")
		}
	}

	app.cancelFunc()
	return nil
}
