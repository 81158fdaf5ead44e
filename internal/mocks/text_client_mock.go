package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyforge/internal/normalizer"
	"storyforge/internal/story"
	"storyforge/internal/textgen"
)

// MockTextClient is a mock type for the TextClient type
type MockTextClient struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, modelName, prompt
func (_m *MockTextClient) Generate(ctx context.Context, modelName string, prompt string) (normalizer.Value, error) {
	ret := _m.Called(ctx, modelName, prompt)

	var r0 normalizer.Value
	if rf, ok := ret.Get(0).(func(context.Context, string, string) normalizer.Value); ok {
		r0 = rf(ctx, modelName, prompt)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(normalizer.Value)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, modelName, prompt)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockTextClient creates a new instance of MockTextClient. It also registers a testing interface on the mock.
func NewMockTextClient(t interface {
	mock.TestingT
	Helper()
}) *MockTextClient {
	m := &MockTextClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ story.TextClient = (*MockTextClient)(nil)
	_ textgen.Client   = (*MockTextClient)(nil)
)
