package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyforge/internal/metrics"
	"storyforge/internal/normalizer"
)

// openAIClient работает с OpenAI-совместимыми серверами (LM Studio, vLLM, OpenRouter).
type openAIClient struct {
	client       *openaigo.Client
	defaultModel string
	temperature  float32
	logger       *zap.Logger
}

func newOpenAIClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	openaiConfig.HTTPClient = httpClient

	logger = logger.Named("OpenAIClient")
	logger.Info("OpenAI client created", zap.String("base_url", cfg.BaseURL), zap.String("default_model", cfg.DefaultModel))

	return &openAIClient{
		client:       openaigo.NewClientWithConfig(openaiConfig),
		defaultModel: cfg.DefaultModel,
		temperature:  float32(cfg.Temperature),
		logger:       logger,
	}
}

func (c *openAIClient) Generate(ctx context.Context, modelName, prompt string) (normalizer.Value, error) {
	modelName = resolveModel(modelName, c.defaultModel)
	log := c.logger.With(zap.String("model", modelName))

	start := time.Now()
	log.Debug("Sending chat completion request", zap.Int("prompt_bytes", len(prompt)))
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: modelName,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	duration := time.Since(start)

	if err != nil {
		err = classifyError(err)
		metrics.RecordTextRequest(modelName, statusLabel(err), duration)
		log.Error("Chat completion failed", zap.Duration("duration", duration), zap.Error(err))
		return normalizer.Value{}, err
	}
	metrics.RecordTextRequest(modelName, "success", duration)

	promptTokens, completionTokens := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if resp.Usage.TotalTokens == 0 {
		promptTokens = estimateTokens(prompt)
		completionTokens = -1
	}
	metrics.RecordTextTokens(modelName, promptTokens, completionTokens)

	if len(resp.Choices) == 0 {
		log.Warn("Chat completion returned no choices")
	}
	log.Info("Chat completion received", zap.Duration("duration", duration),
		zap.Int("prompt_tokens", promptTokens), zap.Int("completion_tokens", completionTokens))

	raw, err := json.Marshal(resp)
	if err != nil {
		return normalizer.Value{}, err
	}
	return normalizer.FromJSON(raw), nil
}
