package mq

import (
	"fmt"
	"strings"
)

const (
	TagTopicTemplate   = "%s/v1/tags/%s"
	SceneTopicTemplate = "%s/v1/scene/%s"
	StatsTopicTemplate = "%s/v1/stats"
	StateTopicTemplate = "%s/v1/stream/state"
)

type TopicManager struct {
	BaseTopic string
}

func NewTopicManager(baseTopic string) *TopicManager {
	return &TopicManager{BaseTopic: strings.TrimSuffix(baseTopic, "/")}
}

func (m *TopicManager) GetTagTopic(tagID string) string {
	return fmt.Sprintf(TagTopicTemplate, m.BaseTopic, tagID)
}

func (m *TopicManager) GetSceneTopic(objectID string) string {
	return fmt.Sprintf(SceneTopicTemplate, m.BaseTopic, objectID)
}

func (m *TopicManager) GetStatsTopic() string {
	return fmt.Sprintf(StatsTopicTemplate, m.BaseTopic)
}

func (m *TopicManager) GetStateTopic() string {
	return fmt.Sprintf(StateTopicTemplate, m.BaseTopic)
}
