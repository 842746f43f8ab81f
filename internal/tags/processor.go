package tags

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
)

var (
	ErrMissingID     = errors.New("report has no tag id")
	ErrBadCoordinate = errors.New("report coordinate is not numeric")
	ErrOutOfRange    = errors.New("report coordinate exceeds sanity bound")
)

// Processor validates raw report payloads into canonical observations,
// classifies them, and owns the live tag table and per-tag history. The
// live table and histories are never handed out by reference; consumers
// get copies.
type Processor struct {
	cfg        config.ProcessorConfig
	logger     zerolog.Logger
	rootZoneID int

	mu        sync.Mutex
	registry  map[string]models.TagCategory
	live      map[string]models.TagObservation
	histories map[string][]models.HistoryEntry
	recent    []time.Time

	now func() time.Time
}

func NewProcessor(cfg config.ProcessorConfig, rootZoneID int, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		logger:     logger,
		rootZoneID: rootZoneID,
		registry:   make(map[string]models.TagCategory),
		live:       make(map[string]models.TagObservation),
		histories:  make(map[string][]models.HistoryEntry),
		now:        time.Now,
	}
}

// SetRegistry replaces the known-device registry used for classification.
func (p *Processor) SetRegistry(devices []*models.TrackedDevice) {
	registry := make(map[string]models.TagCategory, len(devices))
	for _, device := range devices {
		if device.CategoryHint != "" {
			registry[device.DeviceID] = device.CategoryHint
		}
	}

	p.mu.Lock()
	p.registry = registry
	p.mu.Unlock()

	p.logger.Debug().Int("devices", len(registry)).Msg("Device registry updated")
}

// SetRootZone changes the zone against which reports are classified as
// on-campus.
func (p *Processor) SetRootZone(zoneID int) {
	p.mu.Lock()
	p.rootZoneID = zoneID
	p.mu.Unlock()
}

// Process validates and normalizes one raw report. Every structurally
// valid report is admitted; there is no throttling, because downstream
// consumers must not miss reports. Invalid reports leave the live table
// and history untouched.
func (p *Processor) Process(raw map[string]interface{}) (*models.TagObservation, error) {
	id, ok := stringField(raw, idAliases)
	if !ok {
		return nil, fmt.Errorf("rejecting report: %w", ErrMissingID)
	}

	x, ok := floatField(raw, xAliases)
	if !ok {
		return nil, fmt.Errorf("rejecting report %s: x: %w", id, ErrBadCoordinate)
	}
	y, ok := floatField(raw, yAliases)
	if !ok {
		return nil, fmt.Errorf("rejecting report %s: y: %w", id, ErrBadCoordinate)
	}
	if x > p.cfg.SanityBound || x < -p.cfg.SanityBound ||
		y > p.cfg.SanityBound || y < -p.cfg.SanityBound {
		return nil, fmt.Errorf("rejecting report %s at (%.1f, %.1f): %w", id, x, y, ErrOutOfRange)
	}

	z, _ := floatField(raw, zAliases)
	sequence, _ := intField(raw, sequenceAliases)
	zoneID64, _ := intField(raw, zoneAliases)
	zoneID := int(zoneID64)

	p.mu.Lock()
	defer p.mu.Unlock()

	observation := models.TagObservation{
		ID:        id,
		Position:  models.Position{X: x, Y: y, Z: z},
		ZoneID:    zoneID,
		Sequence:  sequence,
		Category:  p.classify(zoneID, id),
		Timestamp: p.now(),
		IsActive:  true,
	}

	p.live[id] = observation
	p.histories[id] = UpdateHistory(p.histories[id], models.HistoryEntry{
		X: x, Y: y, Z: z,
		ZoneID:    zoneID,
		Category:  observation.Category,
		Timestamp: observation.Timestamp,
	}, p.cfg.HistoryLength)
	p.recordUpdate(observation.Timestamp)

	return &observation, nil
}

// classify assigns exactly one category to every observation. Callers must
// hold p.mu.
func (p *Processor) classify(zoneID int, id string) models.TagCategory {
	hint, known := p.registry[id]

	if known && hint == models.CategoryExternal {
		return models.CategoryExternal
	}
	if zoneID != 0 && zoneID == p.rootZoneID {
		return models.CategoryCampus
	}
	if zoneID != 0 {
		return models.CategoryOtherZone
	}
	if known {
		return hint
	}
	return models.CategoryUnknown
}

// UpdateHistory appends an entry and evicts the oldest entries beyond
// maxLen, preserving order.
func UpdateHistory(history []models.HistoryEntry, entry models.HistoryEntry, maxLen int) []models.HistoryEntry {
	history = append(history, entry)
	if maxLen > 0 && len(history) > maxLen {
		history = history[len(history)-maxLen:]
	}
	return history
}

func (p *Processor) recordUpdate(at time.Time) {
	p.recent = append(p.recent, at)

	cutoff := at.Add(-p.cfg.RateWindow)
	trimmed := 0
	for trimmed < len(p.recent) && p.recent[trimmed].Before(cutoff) {
		trimmed++
	}
	p.recent = p.recent[trimmed:]
}

// Snapshot returns a copy of the live tag table.
func (p *Processor) Snapshot() []models.TagObservation {
	p.mu.Lock()
	defer p.mu.Unlock()

	observations := make([]models.TagObservation, 0, len(p.live))
	for _, observation := range p.live {
		observations = append(observations, observation)
	}
	return observations
}

// History returns a copy of the history window for one tag.
func (p *Processor) History(id string) []models.HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	history := p.histories[id]
	if len(history) == 0 {
		return nil
	}
	out := make([]models.HistoryEntry, len(history))
	copy(out, history)
	return out
}

// ComputeStats counts the live table and derives the sliding-window update
// rate as (events-1)/span over the configured window.
func (p *Processor) ComputeStats() models.TagStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := models.TagStats{
		TotalTags:  len(p.live),
		Categories: make(map[models.TagCategory]int),
		ComputedAt: p.now(),
	}

	for _, observation := range p.live {
		stats.Categories[observation.Category]++
		if observation.IsActive {
			stats.ActiveTags++
		}
	}

	if len(p.recent) >= 2 {
		span := p.recent[len(p.recent)-1].Sub(p.recent[0]).Seconds()
		if span > 0 {
			stats.UpdateRate = float64(len(p.recent)-1) / span
		}
	}

	return stats
}

// CleanupStale evicts tags older than maxAge from the live table and drops
// their histories. The owning service schedules this; the processor never
// runs its own timers.
func (p *Processor) CleanupStale(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-maxAge)
	removed := 0
	for id, observation := range p.live {
		if observation.Timestamp.Before(cutoff) {
			delete(p.live, id)
			delete(p.histories, id)
			removed++
		}
	}

	if removed > 0 {
		p.logger.Debug().Int("removed", removed).Msg("Evicted stale tags")
	}
	return removed
}
