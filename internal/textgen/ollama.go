package textgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storyforge/internal/metrics"
	"storyforge/internal/normalizer"
)

// ollamaClient использует нативный API Ollama без стриминга.
type ollamaClient struct {
	client       *api.Client
	defaultModel string
	temperature  float64
	logger       *zap.Logger
}

func newOllamaClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient ждет базовый URL без суффикса /v1
	base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", base, err)
	}

	logger = logger.Named("OllamaClient")
	logger.Info("Ollama client created", zap.String("base_url", base), zap.String("default_model", cfg.DefaultModel))

	return &ollamaClient{
		client:       api.NewClient(parsed, httpClient),
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
		logger:       logger,
	}, nil
}

func (c *ollamaClient) Generate(ctx context.Context, modelName, prompt string) (normalizer.Value, error) {
	modelName = resolveModel(modelName, c.defaultModel)
	log := c.logger.With(zap.String("model", modelName))

	stream := false
	req := &api.ChatRequest{
		Model:    modelName,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options:  map[string]interface{}{"temperature": c.temperature},
	}

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		err = classifyError(err)
		metrics.RecordTextRequest(modelName, statusLabel(err), duration)
		log.Error("Ollama chat failed", zap.Duration("duration", duration), zap.Error(err))
		return normalizer.Value{}, err
	}
	metrics.RecordTextRequest(modelName, "success", duration)
	metrics.RecordTextTokens(modelName, resp.PromptEvalCount, resp.EvalCount)
	log.Info("Ollama chat response received", zap.Duration("duration", duration),
		zap.Int("prompt_tokens", resp.PromptEvalCount), zap.Int("completion_tokens", resp.EvalCount))

	raw, err := json.Marshal(resp)
	if err != nil {
		return normalizer.Value{}, err
	}
	return normalizer.FromJSON(raw), nil
}
