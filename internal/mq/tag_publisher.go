package mq

import (
	"github.com/rs/zerolog"

	"rtls-stream/internal/models"
)

// TagPublisher mirrors canonical observations, stream state, and health
// stats onto the broker for any consumer that is not the 3D scene.
type TagPublisher struct {
	client       *Client
	topicManager *TopicManager
	logger       zerolog.Logger
}

func NewTagPublisher(client *Client, topicManager *TopicManager, logger zerolog.Logger) *TagPublisher {
	return &TagPublisher{
		client:       client,
		topicManager: topicManager,
		logger:       logger,
	}
}

func (p *TagPublisher) PublishObservation(observation models.TagObservation) {
	topic := p.topicManager.GetTagTopic(observation.ID)
	if err := p.client.PublishJson(topic, observation); err != nil {
		p.logger.Warn().Err(err).
			Str("tag", observation.ID).
			Msg("Failed to publish observation")
	}
}

func (p *TagPublisher) PublishStats(stats models.TagStats) {
	if err := p.client.PublishJson(p.topicManager.GetStatsTopic(), stats); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish stats")
	}
}

type streamStateMessage struct {
	State  models.ConnectionState `json:"state"`
	Status string                 `json:"status"`
}

func (p *TagPublisher) PublishState(state models.ConnectionState, status string) {
	message := streamStateMessage{State: state, Status: status}
	if err := p.client.PublishJson(p.topicManager.GetStateTopic(), message); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish stream state")
	}
}
