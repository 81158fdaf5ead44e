package messaging

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storyforge/internal/model"
	"storyforge/internal/repository"
	"storyforge/internal/story"
)

// StoryGenerator - оркестратор сцен.
type StoryGenerator interface {
	Generate(ctx context.Context, req model.GenerationRequest, sink story.ProgressSink) model.StoryResult
}

// TaskHandler обрабатывает одну задачу из очереди: генерация, сохранение, уведомление.
type TaskHandler struct {
	generator StoryGenerator
	repo      repository.StoryRepository
	notifier  Notifier
	maxScenes int
	logger    *zap.Logger
}

// NewTaskHandler создает TaskHandler.
func NewTaskHandler(generator StoryGenerator, repo repository.StoryRepository, notifier Notifier, maxScenes int, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		generator: generator,
		repo:      repo,
		notifier:  notifier,
		maxScenes: maxScenes,
		logger:    logger.Named("TaskHandler"),
	}
}

// Handle выполняет задачу. Возвращенная ошибка означает, что сообщение нужно отклонить.
func (h *TaskHandler) Handle(ctx context.Context, payload GenerationTaskPayload) error {
	log := h.logger.With(zap.String("task_id", payload.TaskID))

	if err := payload.Request.Validate(h.maxScenes); err != nil {
		log.Warn("Invalid generation request", zap.Error(err))
		h.notify(ctx, log, StoryNotificationPayload{TaskID: payload.TaskID, Status: StatusError, Error: err.Error()})
		return err
	}

	log.Info("Processing story task", zap.String("title", payload.Request.Title), zap.Int("scenes", payload.Request.Scenes))
	result := h.generator.Generate(ctx, payload.Request, nil)

	if err := h.repo.Save(ctx, &result); err != nil {
		h.notify(ctx, log, StoryNotificationPayload{
			TaskID: payload.TaskID, StoryID: result.ID, Status: StatusError,
			Error: fmt.Sprintf("failed to save story: %v", err),
		})
		return fmt.Errorf("failed to save story %s: %w", result.ID, err)
	}

	notifyErr := h.notifier.Notify(ctx, StoryNotificationPayload{
		TaskID:       payload.TaskID,
		StoryID:      result.ID,
		Status:       StatusSuccess,
		Scenes:       len(result.Scenes),
		FailedScenes: result.FailedScenes(),
	})
	if notifyErr != nil {
		// история уже сохранена, повторная генерация не нужна
		log.Error("Story saved but notification failed", zap.String("story_id", result.ID.String()), zap.Error(notifyErr))
	}
	return nil
}

func (h *TaskHandler) notify(ctx context.Context, log *zap.Logger, payload StoryNotificationPayload) {
	if err := h.notifier.Notify(ctx, payload); err != nil {
		log.Error("Failed to send error notification", zap.Error(err))
	}
}

// permanent сообщает, что повтор задачи не поможет.
func permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidRequest)
}
