package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storyforge/internal/messaging"
	"storyforge/internal/model"
	"storyforge/internal/repository"
	"storyforge/internal/story"
)

// MockStoryGenerator is a mock type for the StoryGenerator type
type MockStoryGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req, sink
func (_m *MockStoryGenerator) Generate(ctx context.Context, req model.GenerationRequest, sink story.ProgressSink) model.StoryResult {
	ret := _m.Called(ctx, req, sink)

	if rf, ok := ret.Get(0).(func(context.Context, model.GenerationRequest, story.ProgressSink) model.StoryResult); ok {
		return rf(ctx, req, sink)
	}
	return ret.Get(0).(model.StoryResult)
}

// NewMockStoryGenerator creates a new instance of MockStoryGenerator.
func NewMockStoryGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockStoryGenerator {
	m := &MockStoryGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockStoryRepository is a mock type for the StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, s
func (_m *MockStoryRepository) Save(ctx context.Context, s *model.StoryResult) error {
	ret := _m.Called(ctx, s)
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryResult, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.StoryResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.StoryResult)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx, limit, offset
func (_m *MockStoryRepository) List(ctx context.Context, limit int, offset int) ([]*model.StoryResult, error) {
	ret := _m.Called(ctx, limit, offset)

	var r0 []*model.StoryResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.StoryResult)
	}
	return r0, ret.Error(1)
}

// NewMockStoryRepository creates a new instance of MockStoryRepository.
func NewMockStoryRepository(t interface {
	mock.TestingT
	Helper()
}) *MockStoryRepository {
	m := &MockStoryRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, payload
func (_m *MockNotifier) Notify(ctx context.Context, payload messaging.StoryNotificationPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier.
func NewMockNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ messaging.StoryGenerator   = (*MockStoryGenerator)(nil)
	_ repository.StoryRepository = (*MockStoryRepository)(nil)
	_ messaging.Notifier         = (*MockNotifier)(nil)
)
