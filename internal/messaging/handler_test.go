package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"storyforge/internal/messaging"
	"storyforge/internal/mocks"
	"storyforge/internal/model"
)

func validPayload() messaging.GenerationTaskPayload {
	return messaging.GenerationTaskPayload{
		TaskID: "task-1",
		Request: model.GenerationRequest{
			Title:  "Night Train",
			Genre:  "mystery",
			Tone:   "tense",
			Scenes: 2,
		},
	}
}

func TestTaskHandler_Handle_Success(t *testing.T) {
	gen := mocks.NewMockStoryGenerator(t)
	repo := mocks.NewMockStoryRepository(t)
	notifier := mocks.NewMockNotifier(t)

	result := model.StoryResult{
		ID:    uuid.New(),
		Title: "Night Train",
		Scenes: []model.Scene{
			{Index: 1, Text: "The train left.", ImagePath: "/out/1.png"},
			{Index: 2, Text: "failed to generate scene: timeout"},
		},
		CreatedAt: time.Now(),
	}
	gen.On("Generate", mock.Anything, validPayload().Request, nil).Return(result)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(s *model.StoryResult) bool { return s.ID == result.ID })).Return(nil)
	notifier.On("Notify", mock.Anything, messaging.StoryNotificationPayload{
		TaskID:       "task-1",
		StoryID:      result.ID,
		Status:       messaging.StatusSuccess,
		Scenes:       2,
		FailedScenes: 1,
	}).Return(nil)

	h := messaging.NewTaskHandler(gen, repo, notifier, 10, zap.NewNop())
	err := h.Handle(context.Background(), validPayload())

	assert.NoError(t, err)
	gen.AssertExpectations(t)
	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestTaskHandler_Handle_InvalidRequest(t *testing.T) {
	gen := mocks.NewMockStoryGenerator(t)
	repo := mocks.NewMockStoryRepository(t)
	notifier := mocks.NewMockNotifier(t)

	payload := validPayload()
	payload.Request.Scenes = 0

	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(p messaging.StoryNotificationPayload) bool {
		return p.TaskID == "task-1" && p.Status == messaging.StatusError && p.Error != ""
	})).Return(nil)

	h := messaging.NewTaskHandler(gen, repo, notifier, 10, zap.NewNop())
	err := h.Handle(context.Background(), payload)

	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
}

func TestTaskHandler_Handle_SaveFailure(t *testing.T) {
	gen := mocks.NewMockStoryGenerator(t)
	repo := mocks.NewMockStoryRepository(t)
	notifier := mocks.NewMockNotifier(t)

	gen.On("Generate", mock.Anything, mock.Anything, nil).Return(model.StoryResult{ID: uuid.New(), Title: "x"})
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(p messaging.StoryNotificationPayload) bool {
		return p.Status == messaging.StatusError
	})).Return(nil)

	h := messaging.NewTaskHandler(gen, repo, notifier, 10, zap.NewNop())
	err := h.Handle(context.Background(), validPayload())

	assert.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrInvalidRequest)
}

func TestTaskHandler_Handle_NotifyFailureIsNotFatal(t *testing.T) {
	gen := mocks.NewMockStoryGenerator(t)
	repo := mocks.NewMockStoryRepository(t)
	notifier := mocks.NewMockNotifier(t)

	gen.On("Generate", mock.Anything, mock.Anything, nil).Return(model.StoryResult{ID: uuid.New(), Title: "x"})
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(messaging.ErrNoChannel)

	h := messaging.NewTaskHandler(gen, repo, notifier, 10, zap.NewNop())
	assert.NoError(t, h.Handle(context.Background(), validPayload()))
}
