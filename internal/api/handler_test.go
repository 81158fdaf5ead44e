package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/internal/api"
	"storyforge/internal/jobs"
	"storyforge/internal/mocks"
	"storyforge/internal/model"
)

type fakeProgress struct {
	served []uuid.UUID
}

func (f *fakeProgress) Serve(w http.ResponseWriter, _ *http.Request, job jobs.Job) error {
	f.served = append(f.served, job.ID)
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

type testEnv struct {
	router   *gin.Engine
	gen      *mocks.MockStoryGenerator
	repo     *mocks.MockStoryRepository
	jobs     *jobs.Manager
	progress *fakeProgress
}

func newEnv(t *testing.T, limiter gin.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{
		gen:      mocks.NewMockStoryGenerator(t),
		repo:     mocks.NewMockStoryRepository(t),
		jobs:     jobs.New(jobs.Config{MaxActive: 2}, zap.NewNop()),
		progress: &fakeProgress{},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.jobs.Shutdown(ctx)
	})

	handler := api.NewStoryHandler(env.gen, env.repo, env.jobs, env.progress, 5, zap.NewNop())
	env.router = api.NewRouter(api.RouterConfig{Env: "test", Limiter: limiter}, handler, zap.NewNop())
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sampleStory() model.StoryResult {
	return model.StoryResult{
		ID:    uuid.New(),
		Title: "Lighthouse",
		Scenes: []model.Scene{
			{Index: 1, Text: "The lamp flickered.", ImagePath: "/out/a.png"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

const validBody = `{"title":"Lighthouse","genre":"drama","tone":"quiet","scenes":1}`

func TestHealth(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGenerate_Sync(t *testing.T) {
	env := newEnv(t, nil)
	result := sampleStory()

	env.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r model.GenerationRequest) bool {
		return r.Title == "Lighthouse" && r.Scenes == 1
	}), nil).Return(result)
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	rec := env.do(http.MethodPost, "/api/story/generate", validBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.StoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, result.ID, got.ID)
	assert.Len(t, got.Scenes, 1)
	env.repo.AssertExpectations(t)
}

func TestGenerate_AcceptsLegacyFieldNames(t *testing.T) {
	env := newEnv(t, nil)

	env.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r model.GenerationRequest) bool {
		return r.TextPromptAddendum == "rainy" && r.ImagePromptAddendum == "watercolor, "
	}), nil).Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	body := `{"title":"T","scenes":1,"additonalTextPrompt":"rainy","additonalImagePrompt":"watercolor, "}`
	rec := env.do(http.MethodPost, "/api/story/generate", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_SaveFailureStillReturnsStory(t *testing.T) {
	env := newEnv(t, nil)
	env.gen.On("Generate", mock.Anything, mock.Anything, nil).Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	rec := env.do(http.MethodPost, "/api/story/generate", validBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_EmptyTitleIsAccepted(t *testing.T) {
	env := newEnv(t, nil)
	env.gen.On("Generate", mock.Anything, mock.MatchedBy(func(req model.GenerationRequest) bool {
		return req.Title == "" && req.Scenes == 1
	}), nil).Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	rec := env.do(http.MethodPost, "/api/story/generate", `{"scenes":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"title":`},
		{name: "zero scenes", body: `{"title":"T","scenes":0}`},
		{name: "too many scenes", body: `{"title":"T","scenes":6}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, nil)
			rec := env.do(http.MethodPost, "/api/story/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestTasks_SubmitAndPoll(t *testing.T) {
	env := newEnv(t, nil)
	result := sampleStory()

	env.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(result)
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	rec := env.do(http.MethodPost, "/api/story/tasks", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEqual(t, uuid.Nil, submitted.TaskID)

	var job jobs.Job
	require.Eventually(t, func() bool {
		rec := env.do(http.MethodGet, "/api/story/tasks/"+submitted.TaskID.String(), "")
		if rec.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &job)
		return job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, result.ID, job.Result.ID)
}

func TestTasks_SaveFailureFailsJob(t *testing.T) {
	env := newEnv(t, nil)
	env.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	rec := env.do(http.MethodPost, "/api/story/tasks", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	require.Eventually(t, func() bool {
		job, err := env.jobs.Get(submitted.TaskID)
		return err == nil && job.Status == jobs.StatusFailed && strings.Contains(job.Error, "db down")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTasks_Cancel(t *testing.T) {
	env := newEnv(t, nil)
	started := make(chan struct{})

	env.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()

	rec := env.do(http.MethodPost, "/api/story/tasks", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	<-started

	path := "/api/story/tasks/" + submitted.TaskID.String()
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, path, "").Code)

	job, err := env.jobs.Get(submitted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, job.Status)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodDelete, path, "").Code)
}

func TestTasks_UnknownAndInvalidIDs(t *testing.T) {
	env := newEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/story/tasks/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/story/tasks/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/story/tasks/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/ws/tasks/"+uuid.NewString(), "").Code)
}

func TestStories_GetAndList(t *testing.T) {
	env := newEnv(t, nil)
	result := sampleStory()
	missing := uuid.New()

	env.repo.On("GetByID", mock.Anything, result.ID).Return(&result, nil)
	env.repo.On("GetByID", mock.Anything, missing).Return(nil, fmt.Errorf("%w: story %s", model.ErrNotFound, missing))
	env.repo.On("List", mock.Anything, 5, 10).Return([]*model.StoryResult{&result}, nil)
	env.repo.On("List", mock.Anything, 20, 0).Return(nil, nil)

	rec := env.do(http.MethodGet, "/api/stories/"+result.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lighthouse")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/stories/"+missing.String(), "").Code)

	rec = env.do(http.MethodGet, "/api/stories?limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), result.ID.String())

	rec = env.do(http.MethodGet, "/api/stories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stories":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/stories?limit=abc", "").Code)
}

func TestStories_RepositoryErrorIsInternal(t *testing.T) {
	env := newEnv(t, nil)
	id := uuid.New()
	env.repo.On("GetByID", mock.Anything, id).Return(nil, errors.New("connection reset"))

	rec := env.do(http.MethodGet, "/api/stories/"+id.String(), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestStreamTask_ServesKnownJob(t *testing.T) {
	env := newEnv(t, nil)
	release := make(chan struct{})
	env.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(sampleStory())
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
	defer close(release)

	rec := env.do(http.MethodPost, "/api/story/tasks", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = env.do(http.MethodGet, "/ws/tasks/"+submitted.TaskID.String(), "")
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, []uuid.UUID{submitted.TaskID}, env.progress.served)
}

func TestRateLimiter_RejectsExcessGeneration(t *testing.T) {
	env := newEnv(t, api.NewRateLimiter(nil, 1, time.Minute, zap.NewNop()))
	env.gen.On("Generate", mock.Anything, mock.Anything, nil).Return(sampleStory()).Once()
	env.repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/story/generate", validBody).Code)
	rec := env.do(http.MethodPost, "/api/story/generate", validBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// чтение не ограничивается
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/story/tasks/"+uuid.NewString(), "").Code)
}
