// Package textgen - клиенты текстовых бэкендов (OpenAI-совместимый сервер или Ollama).
package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"storyforge/internal/model"
	"storyforge/internal/normalizer"
)

// Client - текстовый бэкенд: промпт на входе, ответ неизвестной формы на выходе.
type Client interface {
	// Generate отправляет prompt модели modelName (пустое имя - модель по умолчанию).
	Generate(ctx context.Context, modelName, prompt string) (normalizer.Value, error)
}

// Config настройки текстового бэкенда.
type Config struct {
	ClientType   string
	BaseURL      string
	APIKey       string
	DefaultModel string
	Temperature  float64
	HTTPTimeout  time.Duration
}

// NewClient создает клиента в зависимости от ClientType.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	switch strings.ToLower(cfg.ClientType) {
	case "", "openai":
		return newOpenAIClient(cfg, httpClient, logger), nil
	case "ollama":
		return newOllamaClient(cfg, httpClient, logger)
	default:
		return nil, fmt.Errorf("unsupported text client type %q", cfg.ClientType)
	}
}

func resolveModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

// classifyError приводит ошибку транспорта к видам ошибок конвейера.
func classifyError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: text backend: %w", model.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: text backend: %w", model.ErrCancelled, err)
	default:
		return fmt.Errorf("%w: text backend: %v", model.ErrBackendUnavailable, err)
	}
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens оценивает число токенов, когда бэкенд не вернул usage. -1 - оценка недоступна.
func estimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return -1
	}
	return len(encoding.Encode(text, nil, nil))
}
