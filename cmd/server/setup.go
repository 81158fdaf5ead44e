package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyforge/internal/api"
	"storyforge/internal/comfyui"
	"storyforge/internal/config"
	"storyforge/internal/gate"
	"storyforge/internal/imagegen"
	"storyforge/internal/jobs"
	"storyforge/internal/metrics"
	"storyforge/internal/poller"
	"storyforge/internal/progress"
	"storyforge/internal/repository"
	"storyforge/internal/story"
	"storyforge/internal/taskrunner"
	"storyforge/internal/textgen"
)

const (
	pgMaxRetries = 10
	pgRetryDelay = 3 * time.Second
)

type pipeline struct {
	gate         *gate.Gate
	orchestrator *story.Orchestrator
}

// buildPipeline собирает Admission Gate, клиентов бэкендов и оркестратор.
func buildPipeline(cfg *config.Config, runner *taskrunner.Runner, log *zap.Logger) (*pipeline, error) {
	comfy, err := comfyui.NewClient(comfyui.Config{
		BaseURL:       cfg.Image.BaseURL,
		SubmitTimeout: cfg.Image.SubmitTimeout,
		StatusTimeout: cfg.Image.StatusTimeout,
		WorkflowPath:  cfg.Image.WorkflowPath,
		Shapes:        cfg.Image.ResponseShapes,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("image backend: %w", err)
	}

	artifacts := poller.New(poller.Config{
		OutputDir: cfg.Image.OutputDir,
		Interval:  cfg.Image.PollInterval,
		Timeout:   cfg.Image.PollTimeout,
	}, comfy, log)

	text, err := textgen.NewClient(textgen.Config{
		ClientType:   cfg.Text.ClientType,
		BaseURL:      cfg.Text.BaseURL,
		APIKey:       cfg.Text.APIKey,
		DefaultModel: cfg.Text.DefaultModel,
		Temperature:  cfg.Text.Temperature,
		HTTPTimeout:  cfg.Text.HTTPTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("text backend: %w", err)
	}

	prompt, err := story.NewPromptBuilder(cfg.Pipeline.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	admission := gate.New(cfg.Pipeline.AdmissionLimit)
	orchestrator := story.NewOrchestrator(story.Deps{
		Gate:   admission,
		Runner: runner,
		Text:   text,
		Images: imagegen.NewService(comfy, artifacts, log),
		Prompt: prompt,
	}, story.Config{
		TextTimeout:    cfg.Pipeline.TextTimeout,
		ImageTimeout:   cfg.Pipeline.ImageTimeout,
		DefaultModel:   cfg.Text.DefaultModel,
		ImageModel:     cfg.Image.Model,
		NegativePrompt: cfg.Image.NegativePrompt,
		Width:          cfg.Image.Width,
		Height:         cfg.Image.Height,
	}, log)

	return &pipeline{gate: admission, orchestrator: orchestrator}, nil
}

// storage - хранилище историй и соединения, которые нужно закрыть.
type storage struct {
	repo  repository.StoryRepository
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (s *storage) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// setupStorage выбирает Postgres или файловое хранилище и при наличии Redis добавляет кэш.
func setupStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	s := &storage{}

	if cfg.Storage.DatabaseURL != "" {
		pool, err := setupPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		zap.L().Info("Connected to PostgreSQL")

		if err := repository.NewMigrator(pool, log).Up(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		s.repo = repository.NewPostgresStoryRepository(pool, log)
	} else {
		repo, err := repository.NewFileStoryRepository(cfg.Pipeline.StoryOutputDir, log)
		if err != nil {
			return nil, err
		}
		s.repo = repo
		zap.L().Info("DATABASE_URL not set, using file story storage", zap.String("dir", cfg.Pipeline.StoryOutputDir))
	}

	if cfg.Storage.RedisAddr != "" {
		rdb, err := setupRedis(ctx, cfg)
		if err != nil {
			// кэш и лимиты необязательны
			zap.L().Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			s.redis = rdb
			s.repo = repository.NewCachedStoryRepository(s.repo, rdb, cfg.Storage.CacheTTL, log)
			zap.L().Info("Connected to Redis", zap.String("addr", cfg.Storage.RedisAddr))
		}
	}
	return s, nil
}

// setupPostgres создает пул соединений, повторяя попытки пока база поднимается.
func setupPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.Storage.DBMaxConns

	var lastErr error
	for attempt := 1; attempt <= pgMaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.NewWithConfig(attemptCtx, poolConfig)
		if err == nil {
			err = pool.Ping(attemptCtx)
			if err == nil {
				cancel()
				return pool, nil
			}
			pool.Close()
		}
		cancel()
		lastErr = err
		zap.L().Warn("PostgreSQL not ready, retrying",
			zap.Int("attempt", attempt), zap.Int("max_attempts", pgMaxRetries), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pgRetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", pgMaxRetries, lastErr)
}

func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// newLimiter возвращает ограничитель запросов на генерацию; 0 запросов отключает его.
func newLimiter(cfg *config.Config, s *storage, log *zap.Logger) gin.HandlerFunc {
	if cfg.RateLimit.Requests == 0 {
		return nil
	}
	return api.NewRateLimiter(s.redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, log.Named("RateLimiter"))
}

func registerGauges(p *pipeline, runner *taskrunner.Runner, manager *jobs.Manager, hub *progress.Hub) {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"storyforge_admission_in_use", "Permits currently held in the admission gate.", func() float64 { return float64(p.gate.InUse()) }},
		{"storyforge_admission_capacity", "Admission gate capacity.", func() float64 { return float64(p.gate.Capacity()) }},
		{"storyforge_blocking_tasks_active", "Blocking backend calls still running, including abandoned ones.", func() float64 { return float64(runner.Active()) }},
		{"storyforge_jobs_active", "Async generation jobs not yet finished.", func() float64 { return float64(manager.Active()) }},
		{"storyforge_progress_subscribers", "Connected websocket progress subscribers.", func() float64 { return float64(hub.Subscribers()) }},
	}
	for _, g := range gauges {
		if err := metrics.RegisterGauge(g.name, g.help, g.fn); err != nil {
			zap.L().Warn("Failed to register gauge", zap.String("name", g.name), zap.Error(err))
		}
	}
}
