package mq

import (
	"time"

	"github.com/rs/zerolog"

	"rtls-stream/internal/models"
)

const (
	sceneOpCreate     = "create"
	sceneOpMove       = "move"
	sceneOpRemove     = "remove"
	sceneOpTrail      = "trail"
	sceneOpTrailClear = "trail_clear"
	sceneOpStyle      = "style"
)

type sceneOp struct {
	Op         string                  `json:"op"`
	ID         string                  `json:"id"`
	Object     *models.SceneObject     `json:"object,omitempty"`
	Position   *models.RenderPosition  `json:"position,omitempty"`
	DurationMs int64                   `json:"duration_ms,omitempty"`
	Easing     string                  `json:"easing,omitempty"`
	Points     []models.RenderPosition `json:"points,omitempty"`
	Appearance *models.Appearance      `json:"appearance,omitempty"`
}

// SceneRenderer feeds the visualization frontend by publishing scene
// operations to the broker, one topic per object. Publish failures are
// logged and swallowed: a dropped frame must never disturb the pipeline.
type SceneRenderer struct {
	client       *Client
	topicManager *TopicManager
	logger       zerolog.Logger
}

func NewSceneRenderer(client *Client, topicManager *TopicManager, logger zerolog.Logger) *SceneRenderer {
	return &SceneRenderer{
		client:       client,
		topicManager: topicManager,
		logger:       logger,
	}
}

func (r *SceneRenderer) publish(op sceneOp) {
	topic := r.topicManager.GetSceneTopic(op.ID)
	if err := r.client.PublishJson(topic, op); err != nil {
		r.logger.Warn().Err(err).
			Str("op", op.Op).
			Str("object", op.ID).
			Msg("Failed to publish scene operation")
	}
}

func (r *SceneRenderer) CreateObject(obj models.SceneObject) {
	r.publish(sceneOp{Op: sceneOpCreate, ID: obj.ID, Object: &obj})
}

func (r *SceneRenderer) MoveObject(id string, pos models.RenderPosition, duration time.Duration) {
	op := sceneOp{Op: sceneOpMove, ID: id, Position: &pos}
	if duration > 0 {
		op.DurationMs = duration.Milliseconds()
		op.Easing = "ease-in-out"
	}
	r.publish(op)
}

func (r *SceneRenderer) RemoveObject(id string) {
	r.publish(sceneOp{Op: sceneOpRemove, ID: id})
}

func (r *SceneRenderer) SetTrail(id string, points []models.RenderPosition) {
	r.publish(sceneOp{Op: sceneOpTrail, ID: id, Points: points})
}

func (r *SceneRenderer) ClearTrail(id string) {
	r.publish(sceneOp{Op: sceneOpTrailClear, ID: id})
}

func (r *SceneRenderer) ApplyStyle(id string, appearance models.Appearance) {
	r.publish(sceneOp{Op: sceneOpStyle, ID: id, Appearance: &appearance})
}
