// Package comfyui - клиент бэкенда генерации изображений ComfyUI.
package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyforge/internal/model"
	"storyforge/internal/normalizer"
)

// Config настройки клиента ComfyUI.
type Config struct {
	BaseURL       string
	SubmitTimeout time.Duration
	StatusTimeout time.Duration
	WorkflowPath  string
	Shapes        []string
}

// Job - параметры одной задачи генерации изображения.
type Job struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Handle         string
}

// Submission - результат отправки задачи. JobID и InlinePath могут быть пустыми.
type Submission struct {
	JobID      string
	InlinePath string
}

// Client отправляет workflow в ComfyUI и опрашивает историю выполнения.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	submitTimeout time.Duration
	statusTimeout time.Duration
	template      []byte
	shapes        []ShapeExtractor
	logger        *zap.Logger
}

// jobIDKeys - поля ответа /prompt, в которых бэкенд может вернуть идентификатор задачи.
var jobIDKeys = []string{"id", "job_id", "uuid", "prompt_id"}

// NewClient создает клиента. Шаблон workflow читается один раз при создании.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("comfyui base URL is not configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid comfyui base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 20 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 15 * time.Second
	}

	template, err := loadWorkflowTemplate(cfg.WorkflowPath)
	if err != nil {
		return nil, err
	}
	shapes, err := resolveShapes(cfg.Shapes)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:    &http.Client{},
		submitTimeout: cfg.SubmitTimeout,
		statusTimeout: cfg.StatusTimeout,
		template:      template,
		shapes:        shapes,
		logger:        logger.Named("ComfyUIClient"),
	}, nil
}

// Submit отправляет задачу в /prompt.
func (c *Client) Submit(ctx context.Context, job Job) (Submission, error) {
	log := c.logger.With(zap.String("handle", job.Handle))

	wf, err := buildWorkflow(c.template, job)
	if err != nil {
		log.Error("Failed to build workflow", zap.Error(err))
		return Submission{}, err
	}
	body, err := json.Marshal(map[string]interface{}{"prompt": wf})
	if err != nil {
		return Submission{}, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	log.Info("Posting workflow to ComfyUI", zap.Int("width", job.Width), zap.Int("height", job.Height), zap.Int("prompt_len", len(job.Prompt)))
	resp, err := c.do(ctx, http.MethodPost, "/prompt", body)
	if err != nil {
		log.Error("ComfyUI submit failed", zap.Error(err))
		return Submission{}, err
	}

	sub := Submission{InlinePath: outputPath(resp.Get("outputs"), 0)}
	for _, key := range jobIDKeys {
		if v := resp.Get(key); v.Kind() == normalizer.KindScalar && v.String() != "" {
			sub.JobID = v.String()
			break
		}
	}
	log.Info("ComfyUI accepted job", zap.String("job_id", sub.JobID), zap.String("inline_path", sub.InlinePath))
	return sub, nil
}

// JobOutputs запрашивает /history/{id} и возвращает путь к артефакту, если он уже известен.
func (c *Client) JobOutputs(ctx context.Context, jobID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(jobID), nil)
	if err != nil {
		return "", err
	}
	for _, extract := range c.shapes {
		if p := extract(resp, jobID); p != "" {
			return p, nil
		}
	}
	return "", nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (normalizer.Value, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return normalizer.Value{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return normalizer.Value{}, fmt.Errorf("%w: %s %s: %w", model.ErrTimeout, method, path, err)
		}
		return normalizer.Value{}, fmt.Errorf("%w: %s %s: %v", model.ErrBackendUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return normalizer.Value{}, fmt.Errorf("%w: read %s response: %v", model.ErrBackendUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return normalizer.Value{}, fmt.Errorf("%w: %s %s returned status %d: %s",
			model.ErrBackendUnavailable, method, path, resp.StatusCode, truncate(string(data), 512))
	}
	return normalizer.FromJSON(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
