// Package poller находит артефакт, который внешний генератор изображений
// записывает асинхронно: через запрос статуса задачи и через сканирование директории вывода.
package poller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyforge/internal/model"
)

// StatusSource - канал статуса задачи бэкенда. Пустая строка без ошибки означает "еще нет результата".
type StatusSource interface {
	JobOutputs(ctx context.Context, jobID string) (string, error)
}

// Config настройки опроса.
type Config struct {
	OutputDir        string
	Interval         time.Duration
	Timeout          time.Duration
	StabilitySamples int
	StabilityDelay   time.Duration
	Extension        string
}

const (
	DefaultInterval         = 800 * time.Millisecond
	DefaultTimeout          = 10 * time.Minute
	DefaultStabilitySamples = 6
	DefaultStabilityDelay   = 100 * time.Millisecond
	DefaultExtension        = ".png"
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.StabilitySamples < 2 {
		c.StabilitySamples = DefaultStabilitySamples
	}
	if c.StabilityDelay <= 0 {
		c.StabilityDelay = DefaultStabilityDelay
	}
	if c.Extension == "" {
		c.Extension = DefaultExtension
	}
	return c
}

// Poller ожидает появления артефакта для отправленной задачи.
type Poller struct {
	cfg    Config
	status StatusSource
	logger *zap.Logger
}

// New создает Poller. status может быть nil - тогда используется только сканирование директории.
func New(cfg Config, status StatusSource, logger *zap.Logger) *Poller {
	return &Poller{
		cfg:    cfg.withDefaults(),
		status: status,
		logger: logger.Named("ArtifactPoller"),
	}
}

// Config возвращает действующие настройки.
func (p *Poller) Config() Config { return p.cfg }

// EnsureOutputDir пытается создать отсутствующую директорию вывода и проверяет, что она читается.
func (p *Poller) EnsureOutputDir() error {
	dir := p.cfg.OutputDir
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Output directory does not exist, creating", zap.String("dir", dir))
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("%w: create %s: %v", model.ErrResourceUnavailable, dir, mkErr)
		}
	}
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: %s is not readable: %v", model.ErrResourceUnavailable, dir, err)
	}
	_ = f.Close()
	return nil
}

// Await опрашивает оба канала с интервалом Interval, пока артефакт не найден
// или не истек Timeout (model.ErrTimeout). Отмена ctx дает model.ErrCancelled.
func (p *Poller) Await(ctx context.Context, handle, jobID string) (string, error) {
	log := p.logger.With(zap.String("handle", handle), zap.String("job_id", jobID))
	start := time.Now()

	deadline := time.NewTimer(p.cfg.Timeout)
	defer deadline.Stop()
	wait := time.NewTimer(p.cfg.Interval)
	defer wait.Stop()

	for attempt := 1; ; attempt++ {
		path, err := p.pollOnce(ctx, log, handle, jobID, attempt)
		if err != nil {
			return "", err
		}
		if path != "" {
			log.Info("Artifact found", zap.String("path", path), zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(start)))
			return path, nil
		}

		if !wait.Stop() {
			select {
			case <-wait.C:
			default:
			}
		}
		wait.Reset(p.cfg.Interval)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: polling for handle=%s job=%s: %w", model.ErrCancelled, handle, jobID, ctx.Err())
		case <-deadline.C:
			log.Warn("Artifact poll timed out", zap.Int("attempts", attempt), zap.Duration("timeout", p.cfg.Timeout))
			return "", fmt.Errorf("%w: waiting for image artifact (handle=%s, job=%s)", model.ErrTimeout, handle, jobID)
		case <-wait.C:
		}
	}
}

// pollOnce выполняет одну итерацию. Ошибка возвращается только при отмене.
func (p *Poller) pollOnce(ctx context.Context, log *zap.Logger, handle, jobID string, attempt int) (string, error) {
	if jobID != "" && p.status != nil {
		path, err := p.status.JobOutputs(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
		case err != nil:
			log.Warn("Job status query failed, falling back to directory scan", zap.Int("attempt", attempt), zap.Error(err))
		case path != "":
			return p.resolve(path), nil
		}
	}

	candidate := p.scan(log, handle)
	if candidate == "" {
		log.Debug("No artifact yet", zap.Int("attempt", attempt))
		return "", nil
	}

	stable, err := p.waitStable(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !stable {
		log.Debug("Candidate file is still being written", zap.String("path", candidate), zap.Int("attempt", attempt))
		return "", nil
	}
	return candidate, nil
}

// scan ищет в директории вывода первый файл с префиксом handle и нужным расширением.
func (p *Poller) scan(log *zap.Logger, handle string) string {
	if handle == "" {
		return ""
	}
	entries, err := os.ReadDir(p.cfg.OutputDir)
	if err != nil {
		log.Debug("Output directory scan failed", zap.String("dir", p.cfg.OutputDir), zap.Error(err))
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, handle) || !strings.HasSuffix(strings.ToLower(name), p.cfg.Extension) {
			continue
		}
		return p.resolve(name)
	}
	return ""
}

func (p *Poller) resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.cfg.OutputDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
