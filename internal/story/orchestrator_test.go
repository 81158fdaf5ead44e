package story_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/internal/gate"
	"storyforge/internal/imagegen"
	"storyforge/internal/mocks"
	"storyforge/internal/model"
	"storyforge/internal/normalizer"
	"storyforge/internal/story"
	"storyforge/internal/taskrunner"
)

type recordingSink struct {
	mu       sync.Mutex
	started  []int
	finished []model.Scene
	failed   []bool
}

func (s *recordingSink) SceneStarted(index, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, index)
}

func (s *recordingSink) SceneFinished(scene model.Scene, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, scene)
	s.failed = append(s.failed, failed)
}

func newOrchestrator(t *testing.T, text *mocks.MockTextClient, images *mocks.MockImageGenerator, cfg story.Config) *story.Orchestrator {
	t.Helper()
	runner := taskrunner.New(zap.NewNop())
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })

	return story.NewOrchestrator(story.Deps{
		Gate:   gate.New(1),
		Runner: runner,
		Text:   text,
		Images: images,
	}, cfg, zap.NewNop())
}

// sceneText отвечает текстом с маркером, номер сцены берется из промпта.
func sceneText(_ context.Context, _ string, prompt string) normalizer.Value {
	for i := 1; i <= 9; i++ {
		if strings.Contains(prompt, fmt.Sprintf("scene %d of", i)) {
			return normalizer.Mapping(map[string]normalizer.Value{
				"choices": normalizer.List(normalizer.Mapping(map[string]normalizer.Value{
					"message": normalizer.Mapping(map[string]normalizer.Value{
						"content": normalizer.Scalar(fmt.Sprintf("Scene %d text.\nIMAGE_PROMPT: picture %d", i, i)),
					}),
				})),
			})
		}
	}
	return normalizer.Scalar("unexpected prompt")
}

func imagePrompt(p string) interface{} {
	return mock.MatchedBy(func(r imagegen.Request) bool { return r.Prompt == p })
}

func TestGenerate_SceneTwoImageTimesOut(t *testing.T) {
	text := mocks.NewMockTextClient(t)
	images := mocks.NewMockImageGenerator(t)

	text.On("Generate", mock.Anything, "gpt-oss-20B", mock.Anything).Return(sceneText, nil)
	images.On("Generate", mock.Anything, imagePrompt("picture 1")).Return("/out/1.png", nil)
	images.On("Generate", mock.Anything, imagePrompt("picture 2")).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return("", fmt.Errorf("%w: poll interrupted", model.ErrCancelled))
	images.On("Generate", mock.Anything, imagePrompt("picture 3")).Return("/out/3.png", nil)

	o := newOrchestrator(t, text, images, story.Config{
		TextTimeout:  time.Second,
		ImageTimeout: 100 * time.Millisecond,
		DefaultModel: "gpt-oss-20B",
	})

	sink := &recordingSink{}
	result := o.Generate(context.Background(), model.GenerationRequest{
		Title:  "The Keep",
		Genre:  "fantasy",
		Tone:   "grim",
		Scenes: 3,
	}, sink)

	require.Len(t, result.Scenes, 3)
	for i, sc := range result.Scenes {
		assert.Equal(t, i+1, sc.Index)
	}
	assert.Equal(t, "The Keep", result.Title)

	assert.Equal(t, "Scene 1 text.", result.Scenes[0].Text)
	assert.Equal(t, "/out/1.png", result.Scenes[0].ImagePath)

	assert.Contains(t, result.Scenes[1].Text, "failed to generate scene")
	assert.Contains(t, result.Scenes[1].Text, "timeout")
	assert.Empty(t, result.Scenes[1].ImagePath)

	assert.Equal(t, "Scene 3 text.", result.Scenes[2].Text)
	assert.Equal(t, "/out/3.png", result.Scenes[2].ImagePath)

	assert.Equal(t, 1, result.FailedScenes())
	assert.Equal(t, []int{1, 2, 3}, sink.started)
	assert.Equal(t, []bool{false, true, false}, sink.failed)
}

func TestGenerate_TextFailureProducesFallbackForEveryScene(t *testing.T) {
	text := mocks.NewMockTextClient(t)
	images := mocks.NewMockImageGenerator(t)

	text.On("Generate", mock.Anything, "custom-model", mock.Anything).
		Return(normalizer.Value{}, fmt.Errorf("%w: connection refused", model.ErrBackendUnavailable))

	o := newOrchestrator(t, text, images, story.Config{})
	result := o.Generate(context.Background(), model.GenerationRequest{
		Title: "Lost", Scenes: 4, Model: "custom-model",
	}, nil)

	require.Len(t, result.Scenes, 4)
	for i, sc := range result.Scenes {
		assert.Equal(t, i+1, sc.Index)
		assert.True(t, strings.HasPrefix(sc.Text, "failed to generate scene: text generation"))
		assert.Empty(t, sc.ImagePath)
	}
	images.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_NoMarkerUsesAddendumAndDefaults(t *testing.T) {
	text := mocks.NewMockTextClient(t)
	images := mocks.NewMockImageGenerator(t)

	text.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(normalizer.Scalar("A quiet village."), nil)
	images.On("Generate", mock.Anything, mock.MatchedBy(func(r imagegen.Request) bool {
		return r.Prompt == "watercolor, A quiet village." &&
			r.Model == story.DefaultImageModel &&
			r.Width == story.DefaultImageSize && r.Height == story.DefaultImageSize &&
			r.NegativePrompt == "ugly"
	})).Return("/out/v.png", nil)

	o := newOrchestrator(t, text, images, story.Config{NegativePrompt: "ugly"})
	result := o.Generate(context.Background(), model.GenerationRequest{
		Title: "Village", Scenes: 1, ImagePromptAddendum: "watercolor, ",
	}, nil)

	require.Len(t, result.Scenes, 1)
	assert.Equal(t, model.Scene{Index: 1, Text: "A quiet village.", ImagePath: "/out/v.png"}, result.Scenes[0])
	images.AssertExpectations(t)
}

func TestGenerate_CancelledContextStillReturnsAllScenes(t *testing.T) {
	text := mocks.NewMockTextClient(t)
	images := mocks.NewMockImageGenerator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, text, images, story.Config{})
	result := o.Generate(ctx, model.GenerationRequest{Title: "Stop", Scenes: 2}, nil)

	require.Len(t, result.Scenes, 2)
	for i, sc := range result.Scenes {
		assert.Equal(t, i+1, sc.Index)
		assert.Contains(t, sc.Text, "cancelled")
	}
	text.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_TextPanicBecomesFallback(t *testing.T) {
	text := mocks.NewMockTextClient(t)
	images := mocks.NewMockImageGenerator(t)

	text.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("model exploded") }).
		Return(normalizer.Value{}, nil)

	o := newOrchestrator(t, text, images, story.Config{})
	result := o.Generate(context.Background(), model.GenerationRequest{Title: "Boom", Scenes: 1}, nil)

	require.Len(t, result.Scenes, 1)
	assert.Contains(t, result.Scenes[0].Text, "failed to generate scene")
	assert.Empty(t, result.Scenes[0].ImagePath)
}
