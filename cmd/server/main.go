package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storyforge/internal/api"
	"storyforge/internal/config"
	"storyforge/internal/jobs"
	"storyforge/internal/logger"
	"storyforge/internal/messaging"
	"storyforge/internal/metrics"
	"storyforge/internal/progress"
	"storyforge/internal/taskrunner"
)

const (
	shutdownTimeout = 15 * time.Second
	cleanupInterval = 10 * time.Minute
	pushInterval    = 15 * time.Second
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized", zap.Stringer("level", log.Level()), zap.String("env", cfg.AppEnv))
	zap.L().Info("Configuration loaded",
		zap.String("image_base_url", cfg.Image.BaseURL),
		zap.String("text_backend", cfg.Text.ClientType),
		zap.String("database", cfg.MaskedDatabaseURL()),
		zap.Int64("admission_limit", cfg.Pipeline.AdmissionLimit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- External Connections ---
	store, err := setupStorage(ctx, cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to initialize story storage", zap.Error(err))
	}
	defer store.Close()

	// --- Pipeline ---
	runner := taskrunner.New(log)
	pipe, err := buildPipeline(cfg, runner, log)
	if err != nil {
		zap.L().Fatal("Failed to initialize generation pipeline", zap.Error(err))
	}

	// --- Jobs & Progress ---
	hub := progress.NewHub(log)
	jobManager := jobs.New(jobs.Config{}, log)
	jobManager.SetNotifier(hub)
	go cleanupJobs(ctx, jobManager, cfg.Pipeline.JobRetention)

	registerGauges(pipe, runner, jobManager, hub)

	var pusher *metrics.Pusher
	if cfg.PushGatewayURL != "" {
		pusher, err = metrics.NewPusher(cfg.PushGatewayURL, log)
		if err != nil {
			zap.L().Error("Failed to create metrics pusher, continuing without it", zap.Error(err))
		} else {
			pusher.Start(ctx, pushInterval)
		}
	}

	// --- Queue Worker ---
	consumerDone := make(chan struct{})
	if cfg.RabbitMQ.URL != "" {
		consumer := messaging.NewConsumer(messaging.ConsumerConfig{
			URL:          cfg.RabbitMQ.URL,
			ConsumerName: cfg.RabbitMQ.ConsumerName,
			TaskQueue:    cfg.RabbitMQ.TaskQueueName,
			ResultQueue:  cfg.RabbitMQ.ResultQueueName,
			Prefetch:     cfg.RabbitMQ.Prefetch,
		}, log)
		notifier := messaging.NewRabbitMQNotifier(consumer.Publisher(), cfg.RabbitMQ.ResultQueueName, log)
		consumer.SetHandler(messaging.NewTaskHandler(pipe.orchestrator, store.repo, notifier, cfg.Pipeline.MaxScenes, log))

		go func() {
			defer close(consumerDone)
			zap.L().Info("Starting task consumer...")
			if err := consumer.Run(ctx); err != nil {
				zap.L().Error("Task consumer stopped with error", zap.Error(err))
			}
		}()
	} else {
		zap.L().Info("RABBITMQ_URL not set, queue worker disabled")
		close(consumerDone)
	}

	// --- HTTP Server ---
	handler := api.NewStoryHandler(pipe.orchestrator, store.repo, jobManager, hub, cfg.Pipeline.MaxScenes, log)
	router := api.NewRouter(api.RouterConfig{
		Env:            cfg.AppEnv,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        true,
		Limiter:        newLimiter(cfg, store, log),
	}, handler, log)

	// WriteTimeout не задан: синхронная генерация длится столько же, сколько вся история
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zap.L().Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := jobManager.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Jobs did not finish in time", zap.Error(err))
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		zap.L().Warn("Task consumer did not stop in time")
	}

	hub.Close()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Blocking tasks still running at shutdown", zap.Error(err), zap.Int("active", runner.Active()))
	}
	if pusher != nil {
		pusher.Cleanup()
	}

	zap.L().Info("Server exiting")
}

// cleanupJobs периодически удаляет завершенные задачи старше retention.
func cleanupJobs(ctx context.Context, manager *jobs.Manager, retention time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupFinished(retention); removed > 0 {
				zap.L().Info("Removed finished jobs", zap.Int("count", removed))
			}
		}
	}
}
