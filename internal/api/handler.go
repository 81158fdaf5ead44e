// Package api - HTTP интерфейс сервиса генерации историй.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/jobs"
	"storyforge/internal/model"
	"storyforge/internal/repository"
	"storyforge/internal/story"
)

// StoryGenerator - оркестратор сцен.
type StoryGenerator interface {
	Generate(ctx context.Context, req model.GenerationRequest, sink story.ProgressSink) model.StoryResult
}

// JobManager - асинхронные задачи генерации.
type JobManager interface {
	Submit(fn jobs.Func) (uuid.UUID, error)
	Get(id uuid.UUID) (jobs.Job, error)
	Cancel(id uuid.UUID) error
}

// ProgressServer отдает поток событий задачи по WebSocket.
type ProgressServer interface {
	Serve(w http.ResponseWriter, r *http.Request, job jobs.Job) error
}

// StoryHandler обрабатывает запросы генерации и чтения историй.
type StoryHandler struct {
	generator StoryGenerator
	repo      repository.StoryRepository
	jobs      JobManager
	progress  ProgressServer
	maxScenes int
	logger    *zap.Logger
}

// NewStoryHandler создает StoryHandler.
func NewStoryHandler(generator StoryGenerator, repo repository.StoryRepository, jobManager JobManager, progress ProgressServer, maxScenes int, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		generator: generator,
		repo:      repo,
		jobs:      jobManager,
		progress:  progress,
		maxScenes: maxScenes,
		logger:    logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты. limiter применяется к запуску генерации, nil - без ограничения.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine, limiter gin.HandlerFunc) {
	storyGroup := router.Group("/api/story")
	{
		generation := storyGroup.Group("")
		if limiter != nil {
			generation.Use(limiter)
		}
		generation.POST("/generate", h.generate)
		generation.POST("/tasks", h.submitTask)

		storyGroup.GET("/tasks/:id", h.getTask)
		storyGroup.DELETE("/tasks/:id", h.cancelTask)
	}

	router.GET("/api/stories", h.listStories)
	router.GET("/api/stories/:id", h.getStory)
	router.GET("/ws/tasks/:id", h.streamTask)
}

func (h *StoryHandler) bindRequest(c *gin.Context) (model.GenerationRequest, bool) {
	var req model.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
		return req, false
	}
	if err := req.Validate(h.maxScenes); err != nil {
		handleError(c, h.logger, err)
		return req, false
	}
	return req, true
}

// generate синхронно генерирует историю и возвращает ее целиком.
func (h *StoryHandler) generate(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	result := h.generator.Generate(c.Request.Context(), req, nil)
	if err := h.repo.Save(c.Request.Context(), &result); err != nil {
		// история уже готова, клиент получает ее в любом случае
		h.logger.Error("Failed to save generated story", zap.String("story_id", result.ID.String()), zap.Error(err))
	}
	c.JSON(http.StatusOK, result)
}

// submitTask ставит генерацию в фон и возвращает идентификатор задачи.
func (h *StoryHandler) submitTask(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	id, err := h.jobs.Submit(func(ctx context.Context, sink story.ProgressSink) (*model.StoryResult, error) {
		result := h.generator.Generate(ctx, req, sink)
		if err := h.repo.Save(ctx, &result); err != nil {
			return &result, fmt.Errorf("failed to save story %s: %w", result.ID, err)
		}
		return &result, nil
	})
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	h.logger.Info("Story task submitted", zap.String("task_id", id.String()), zap.String("title", req.Title), zap.Int("scenes", req.Scenes))
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (h *StoryHandler) getTask(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(id)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *StoryHandler) cancelTask(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(id); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) getStory(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	result, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *StoryHandler) listStories(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		handleError(c, h.logger, fmt.Errorf("%w: invalid limit", model.ErrInvalidRequest))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		handleError(c, h.logger, fmt.Errorf("%w: invalid offset", model.ErrInvalidRequest))
		return
	}

	stories, err := h.repo.List(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if stories == nil {
		stories = []*model.StoryResult{}
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

// streamTask подписывает клиента на события задачи.
func (h *StoryHandler) streamTask(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(id)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if err := h.progress.Serve(c.Writer, c.Request, job); err != nil {
		h.logger.Warn("Failed to upgrade websocket connection", zap.String("task_id", id.String()), zap.Error(err))
	}
}

func (h *StoryHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleError(c, h.logger, fmt.Errorf("%w: invalid id %q", model.ErrInvalidRequest, c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}
