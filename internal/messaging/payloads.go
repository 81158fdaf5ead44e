// Package messaging - очередь задач генерации историй в RabbitMQ.
package messaging

import (
	"github.com/google/uuid"

	"storyforge/internal/model"
)

// Статусы уведомлений
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// GenerationTaskPayload - сообщение очереди задач.
type GenerationTaskPayload struct {
	TaskID  string                  `json:"task_id"`
	Request model.GenerationRequest `json:"request"`
}

// StoryNotificationPayload - сообщение очереди результатов.
type StoryNotificationPayload struct {
	TaskID       string    `json:"task_id"`
	StoryID      uuid.UUID `json:"story_id,omitempty"`
	Status       string    `json:"status"`
	Scenes       int       `json:"scenes"`
	FailedScenes int       `json:"failed_scenes"`
	Error        string    `json:"error,omitempty"`
}
