// Package imagegen генерирует изображение сцены: отправка задачи в бэкенд и ожидание артефакта.
package imagegen

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/comfyui"
	"storyforge/internal/metrics"
	"storyforge/internal/model"
)

// Request - параметры изображения для одной сцены.
type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
}

// Backend - отправка задачи в бэкенд изображений.
type Backend interface {
	Submit(ctx context.Context, job comfyui.Job) (comfyui.Submission, error)
}

// ArtifactWaiter ожидает артефакт по handle и id задачи.
type ArtifactWaiter interface {
	Await(ctx context.Context, handle, jobID string) (string, error)
	EnsureOutputDir() error
}

// Service реализует генерацию изображения.
type Service struct {
	backend Backend
	waiter  ArtifactWaiter
	logger  *zap.Logger
}

// NewService создает Service.
func NewService(backend Backend, waiter ArtifactWaiter, logger *zap.Logger) *Service {
	return &Service{
		backend: backend,
		waiter:  waiter,
		logger:  logger.Named("ImageService"),
	}
}

// Generate отправляет задачу и возвращает путь к готовому изображению.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	handle := uuid.NewString()
	log := s.logger.With(zap.String("handle", handle))

	if err := s.waiter.EnsureOutputDir(); err != nil {
		// Каталог мог еще не появиться у бэкенда; сканирование повторится при опросе.
		log.Warn("Output directory is not available", zap.Error(err))
	}

	sub, err := s.backend.Submit(ctx, comfyui.Job{
		Model:          req.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Handle:         handle,
	})
	switch {
	case err == nil:
		metrics.RecordImageSubmission("accepted")
	case errors.Is(err, model.ErrTimeout) && ctx.Err() == nil:
		// Бэкенд мог принять задачу, но не успеть ответить; файл ищем по handle.
		metrics.RecordImageSubmission("timeout")
		log.Warn("Submit timed out, polling output directory by handle", zap.Error(err))
		return s.await(ctx, handle, "")
	default:
		metrics.RecordImageSubmission("error")
		return "", err
	}

	if sub.InlinePath != "" {
		log.Info("Backend returned outputs immediately", zap.String("path", sub.InlinePath))
		metrics.RecordArtifactPoll("inline", 0)
		return sub.InlinePath, nil
	}

	return s.await(ctx, handle, sub.JobID)
}

func (s *Service) await(ctx context.Context, handle, jobID string) (string, error) {
	start := time.Now()
	path, err := s.waiter.Await(ctx, handle, jobID)
	switch {
	case err == nil:
		metrics.RecordArtifactPoll("found", time.Since(start))
	case errors.Is(err, model.ErrTimeout):
		metrics.RecordArtifactPoll("timeout", time.Since(start))
	default:
		metrics.RecordArtifactPoll("cancelled", time.Since(start))
	}
	return path, err
}
