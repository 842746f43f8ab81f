// Package scene keeps a one-to-one mapping between tag ids and renderable
// objects, reconciling the object table against each tick's selected
// observation set. Actual drawing is delegated to a Renderer; this package
// only owns the bookkeeping and the coordinate conversion.
package scene

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
	"rtls-stream/internal/transform"
)

// Renderer receives scene mutations. The production implementation
// publishes them to the visualization frontend; tests record them.
type Renderer interface {
	CreateObject(obj models.SceneObject)
	MoveObject(id string, pos models.RenderPosition, duration time.Duration)
	RemoveObject(id string)
	SetTrail(id string, points []models.RenderPosition)
	ClearTrail(id string)
	ApplyStyle(id string, appearance models.Appearance)
}

// HistorySource provides the bounded history window for trail rendering.
type HistorySource interface {
	History(id string) []models.HistoryEntry
}

// Synchronizer owns the scene object table. Nothing else mutates it; input
// arrives as observation snapshots, output goes to the Renderer.
type Synchronizer struct {
	cfg      config.SceneConfig
	bounds   models.SpatialBounds
	renderer Renderer
	history  HistorySource
	logger   zerolog.Logger

	mu         sync.Mutex
	objects    map[string]*models.SceneObject
	appearance models.Appearance

	now func() time.Time
}

func NewSynchronizer(
	cfg config.SceneConfig,
	bounds models.SpatialBounds,
	renderer Renderer,
	history HistorySource,
	logger zerolog.Logger,
) *Synchronizer {
	return &Synchronizer{
		cfg:        cfg,
		bounds:     bounds,
		renderer:   renderer,
		history:    history,
		logger:     logger,
		objects:    make(map[string]*models.SceneObject),
		appearance: models.DefaultAppearance(),
		now:        time.Now,
	}
}

// Sync reconciles the scene against the selected observation set: objects
// for absent ids are destroyed, new in-bounds ids are created, existing
// ones are moved. Out-of-bounds observations are skipped rather than
// rendered off-map; an existing object that drifts out of bounds is
// removed so the live object set stays exactly the in-bounds selection.
func (s *Synchronizer) Sync(selection []models.TagObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make(map[string]bool, len(selection))
	for _, observation := range selection {
		selected[observation.ID] = true
	}

	for id := range s.objects {
		if !selected[id] {
			s.removeLocked(id)
		}
	}

	for _, observation := range selection {
		if !transform.IsWithinBounds(observation.Position.X, observation.Position.Y, s.bounds) {
			s.logger.Debug().
				Str("tag", observation.ID).
				Float64("x", observation.Position.X).
				Float64("y", observation.Position.Y).
				Msg("Skipping off-map tag")
			if _, exists := s.objects[observation.ID]; exists {
				s.removeLocked(observation.ID)
			}
			continue
		}

		position := transform.Observation(observation, s.bounds)

		object, exists := s.objects[observation.ID]
		if !exists {
			object = &models.SceneObject{
				ID:         observation.ID,
				Position:   position,
				Appearance: s.appearance,
				Category:   observation.Category,
				UpdatedAt:  s.now(),
			}
			s.objects[observation.ID] = object
			s.renderer.CreateObject(*object)
		} else {
			object.Position = position
			object.Category = observation.Category
			object.UpdatedAt = s.now()
			s.renderer.MoveObject(observation.ID, position, s.cfg.MoveDuration)
		}

		s.syncTrailLocked(object)
	}
}

func (s *Synchronizer) removeLocked(id string) {
	delete(s.objects, id)
	s.renderer.ClearTrail(id)
	s.renderer.RemoveObject(id)
}

func (s *Synchronizer) syncTrailLocked(object *models.SceneObject) {
	if !s.cfg.TrailsEnabled || s.history == nil {
		return
	}

	history := s.history.History(object.ID)
	if len(history) < 2 {
		return
	}

	points := transform.HistoryPolyline(history, s.bounds)
	object.Trail = points
	s.renderer.SetTrail(object.ID, points)
}

// Restyle applies a new appearance to every current object without
// touching position state.
func (s *Synchronizer) Restyle(appearance models.Appearance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appearance = appearance
	for id, object := range s.objects {
		object.Appearance = appearance
		s.renderer.ApplyStyle(id, appearance)
	}
}

// Reset destroys every scene object, releasing renderer resources. Called
// when the stream is torn down.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.objects {
		s.removeLocked(id)
	}
}

// Objects returns a copy of the current scene object table.
func (s *Synchronizer) Objects() []models.SceneObject {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects := make([]models.SceneObject, 0, len(s.objects))
	for _, object := range s.objects {
		objects = append(objects, *object)
	}
	return objects
}
