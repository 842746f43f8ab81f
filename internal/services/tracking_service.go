package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
	"rtls-stream/internal/scene"
	"rtls-stream/internal/subscription"
	"rtls-stream/internal/tags"
)

// DeviceProvider is the registry read interface the pipeline needs.
type DeviceProvider interface {
	GetTrackedDevices(ctx context.Context) ([]*models.TrackedDevice, error)
	MarkInactiveDevices(ctx context.Context, timeout time.Duration) error
	TouchLastSeen(ctx context.Context, deviceIDs []string) error
}

// ObservationPublisher mirrors pipeline output to external consumers.
type ObservationPublisher interface {
	PublishObservation(observation models.TagObservation)
	PublishStats(stats models.TagStats)
	PublishState(state models.ConnectionState, status string)
}

// StatsSink persists aggregate stream health numbers.
type StatsSink interface {
	WriteStats(stats models.TagStats) error
}

// TrackingService wires the stream into the processor and the scene: it
// is the stream manager's message handler and subscription source, and it
// owns the periodic jobs (stale cleanup, stats, scene sync) so that no
// lower component schedules its own timers.
type TrackingService struct {
	cfg          *config.Config
	processor    *tags.Processor
	builder      *subscription.Builder
	synchronizer *scene.Synchronizer
	devices      DeviceProvider
	publisher    ObservationPublisher
	statsSink    StatsSink
	logger       zerolog.Logger

	selection map[models.TagCategory]bool

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewTrackingService(
	cfg *config.Config,
	processor *tags.Processor,
	builder *subscription.Builder,
	synchronizer *scene.Synchronizer,
	devices DeviceProvider,
	publisher ObservationPublisher,
	statsSink StatsSink,
	logger zerolog.Logger,
) *TrackingService {
	return &TrackingService{
		cfg:          cfg,
		processor:    processor,
		builder:      builder,
		synchronizer: synchronizer,
		devices:      devices,
		publisher:    publisher,
		statsSink:    statsSink,
		logger:       logger,
		selection:    parseSelection(cfg.Scene.Selection),
	}
}

// parseSelection turns the configured selection policy into a category
// allow-list; nil means "all".
func parseSelection(selection string) map[models.TagCategory]bool {
	selection = strings.TrimSpace(selection)
	if selection == "" || strings.EqualFold(selection, "all") {
		return nil
	}

	allowed := make(map[models.TagCategory]bool)
	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			allowed[models.TagCategory(strings.ToUpper(part))] = true
		}
	}
	return allowed
}

// Subscriptions implements stream.SubscriptionSource: registry devices,
// priority-ordered, chunked over the resolved zone hierarchy. A registry
// failure degrades to the builder's placeholder list.
func (s *TrackingService) Subscriptions(ctx context.Context) []models.Subscription {
	devices, err := s.devices.GetTrackedDevices(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Device registry unavailable, using placeholder devices")
		devices = nil
	} else {
		s.processor.SetRegistry(devices)
	}

	zoneIDs := s.builder.ResolveZoneHierarchy(ctx, s.cfg.Subscription.RootZoneID)
	return s.builder.BuildSubscriptions(devices, zoneIDs)
}

// HandleReport implements stream.MessageHandler for report messages.
// Validation faults are contained here; they never affect the connection.
func (s *TrackingService) HandleReport(msg map[string]interface{}) {
	observation, err := s.processor.Process(msg)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Report rejected")
		return
	}

	if s.publisher != nil {
		s.publisher.PublishObservation(*observation)
	}
}

// HandleStateChange implements stream.StateHandler.
func (s *TrackingService) HandleStateChange(state models.ConnectionState, status string) {
	s.logger.Info().
		Str("state", string(state)).
		Str("status", status).
		Msg("Stream state changed")

	if s.publisher != nil {
		s.publisher.PublishState(state, status)
	}

	if state == models.StateDisconnected || state == models.StateFailed {
		s.synchronizer.Reset()
	}
}

// Start launches the periodic jobs. Idempotent.
func (s *TrackingService) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	s.logger.Info().
		Dur("cleanup_interval", s.cfg.Processor.CleanupInterval).
		Dur("sync_interval", s.cfg.Scene.SyncInterval).
		Dur("stats_interval", s.cfg.Scene.StatsInterval).
		Msg("Tracking service started")
}

func (s *TrackingService) run() {
	defer s.wg.Done()

	cleanupTicker := time.NewTicker(s.cfg.Processor.CleanupInterval)
	statsTicker := time.NewTicker(s.cfg.Scene.StatsInterval)
	syncTicker := time.NewTicker(s.cfg.Scene.SyncInterval)
	defer cleanupTicker.Stop()
	defer statsTicker.Stop()
	defer syncTicker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-syncTicker.C:
			s.syncScene()
		case <-statsTicker.C:
			s.publishStats()
		case <-cleanupTicker.C:
			s.cleanup()
		}
	}
}

func (s *TrackingService) syncScene() {
	s.synchronizer.Sync(s.selectObservations(s.processor.Snapshot()))
}

func (s *TrackingService) selectObservations(observations []models.TagObservation) []models.TagObservation {
	if s.selection == nil {
		return observations
	}

	selected := observations[:0:0]
	for _, observation := range observations {
		if s.selection[observation.Category] {
			selected = append(selected, observation)
		}
	}
	return selected
}

func (s *TrackingService) publishStats() {
	stats := s.processor.ComputeStats()

	if s.publisher != nil {
		s.publisher.PublishStats(stats)
	}
	if s.statsSink != nil {
		if err := s.statsSink.WriteStats(stats); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist stats")
		}
	}
}

func (s *TrackingService) cleanup() {
	removed := s.processor.CleanupStale(s.cfg.Processor.StaleAge)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Stale tags evicted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	live := s.processor.Snapshot()
	ids := make([]string, 0, len(live))
	for _, observation := range live {
		ids = append(ids, observation.ID)
	}
	if err := s.devices.TouchLastSeen(ctx, ids); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to refresh device last-seen timestamps")
	}

	if err := s.devices.MarkInactiveDevices(ctx, s.cfg.Processor.StaleAge); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to mark inactive devices")
	}
}

// Stop halts the periodic jobs and waits for them to exit.
func (s *TrackingService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Tracking service stopped")
}
