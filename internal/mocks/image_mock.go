package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyforge/internal/comfyui"
	"storyforge/internal/imagegen"
	"storyforge/internal/story"
)

// MockImageGenerator is a mock type for the ImageGenerator type
type MockImageGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockImageGenerator) Generate(ctx context.Context, req imagegen.Request) (string, error) {
	ret := _m.Called(ctx, req)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, imagegen.Request) string); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, imagegen.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockImageGenerator creates a new instance of MockImageGenerator.
func NewMockImageGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockImageGenerator {
	m := &MockImageGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockImageBackend is a mock type for the Backend type
type MockImageBackend struct {
	mock.Mock
}

// Submit provides a mock function with given fields: ctx, job
func (_m *MockImageBackend) Submit(ctx context.Context, job comfyui.Job) (comfyui.Submission, error) {
	ret := _m.Called(ctx, job)

	var r0 comfyui.Submission
	if rf, ok := ret.Get(0).(func(context.Context, comfyui.Job) comfyui.Submission); ok {
		r0 = rf(ctx, job)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(comfyui.Submission)
	}

	return r0, ret.Error(1)
}

// NewMockImageBackend creates a new instance of MockImageBackend.
func NewMockImageBackend(t interface {
	mock.TestingT
	Helper()
}) *MockImageBackend {
	m := &MockImageBackend{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockArtifactWaiter is a mock type for the ArtifactWaiter type
type MockArtifactWaiter struct {
	mock.Mock
}

// Await provides a mock function with given fields: ctx, handle, jobID
func (_m *MockArtifactWaiter) Await(ctx context.Context, handle string, jobID string) (string, error) {
	ret := _m.Called(ctx, handle, jobID)
	return ret.String(0), ret.Error(1)
}

// EnsureOutputDir provides a mock function with no fields
func (_m *MockArtifactWaiter) EnsureOutputDir() error {
	ret := _m.Called()
	return ret.Error(0)
}

// NewMockArtifactWaiter creates a new instance of MockArtifactWaiter.
func NewMockArtifactWaiter(t interface {
	mock.TestingT
	Helper()
}) *MockArtifactWaiter {
	m := &MockArtifactWaiter{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ story.ImageGenerator    = (*MockImageGenerator)(nil)
	_ imagegen.Backend        = (*MockImageBackend)(nil)
	_ imagegen.ArtifactWaiter = (*MockArtifactWaiter)(nil)
)
