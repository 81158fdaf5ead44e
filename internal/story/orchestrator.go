// Package story собирает историю из сцен: текст, промпт изображения и изображение для каждой сцены.
package story

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/imagegen"
	"storyforge/internal/metrics"
	"storyforge/internal/model"
	"storyforge/internal/normalizer"
	"storyforge/internal/taskrunner"
)

// Gate ограничивает число одновременно выполняемых тяжелых задач.
type Gate interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// TextClient - текстовый бэкенд.
type TextClient interface {
	Generate(ctx context.Context, modelName, prompt string) (normalizer.Value, error)
}

// ImageGenerator - генерация изображения с ожиданием артефакта.
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (string, error)
}

// ProgressSink получает события по ходу генерации.
type ProgressSink interface {
	SceneStarted(index, total int)
	SceneFinished(scene model.Scene, failed bool)
}

// Deps - зависимости оркестратора.
type Deps struct {
	Gate   Gate
	Runner *taskrunner.Runner
	Text   TextClient
	Images ImageGenerator
	Prompt *PromptBuilder
}

// Config - таймауты и параметры изображений.
type Config struct {
	TextTimeout    time.Duration
	ImageTimeout   time.Duration
	DefaultModel   string
	ImageModel     string
	NegativePrompt string
	Width          int
	Height         int
}

const (
	DefaultTextTimeout    = 720 * time.Hour
	DefaultImageTimeout   = 960 * time.Hour
	DefaultImageModel     = "Juggernaut-XI-byRunDiffusion.safetensors"
	DefaultNegativePrompt = "Bad anatomy, Low quality, incorrect object placements"
	DefaultImageSize      = 1024
)

func (c Config) withDefaults() Config {
	if c.TextTimeout <= 0 {
		c.TextTimeout = DefaultTextTimeout
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = DefaultImageTimeout
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.Width <= 0 {
		c.Width = DefaultImageSize
	}
	if c.Height <= 0 {
		c.Height = DefaultImageSize
	}
	return c
}

// Orchestrator последовательно генерирует сцены истории.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewOrchestrator создает оркестратор. Пустой deps.Prompt заменяется встроенным шаблоном.
func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if deps.Prompt == nil {
		deps.Prompt = &PromptBuilder{template: defaultSceneTemplate}
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("StoryOrchestrator"),
	}
}

// Generate генерирует все сцены запроса по порядку и возвращает историю.
// Ошибка одной сцены превращается в сцену-заглушку, генерация продолжается.
func (o *Orchestrator) Generate(ctx context.Context, req model.GenerationRequest, sink ProgressSink) model.StoryResult {
	result := model.StoryResult{
		ID:     uuid.New(),
		Title:  req.Title,
		Scenes: make([]model.Scene, 0, req.Scenes),
	}
	log := o.logger.With(zap.String("story_id", result.ID.String()), zap.String("title", req.Title))
	log.Info("Starting story generation", zap.Int("scenes", req.Scenes), zap.String("genre", req.Genre))

	for i := 1; i <= req.Scenes; i++ {
		if sink != nil {
			sink.SceneStarted(i, req.Scenes)
		}

		start := time.Now()
		scene, err := o.generateScene(ctx, log.With(zap.Int("scene", i)), req, i)
		failed := err != nil
		if failed {
			log.Error("Scene generation failed, using fallback", zap.Int("scene", i), zap.Error(err))
			scene = model.Scene{Index: i, Text: fmt.Sprintf("failed to generate scene: %v", err)}
		}
		metrics.RecordScene(failed, time.Since(start))

		result.Scenes = append(result.Scenes, scene)
		if sink != nil {
			sink.SceneFinished(scene, failed)
		}
	}

	result.CreatedAt = time.Now().UTC()
	metrics.RecordStory(result.FailedScenes())
	log.Info("Story generation finished", zap.Int("failed_scenes", result.FailedScenes()))
	return result
}

func (o *Orchestrator) generateScene(ctx context.Context, log *zap.Logger, req model.GenerationRequest, index int) (scene model.Scene, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scene %d panicked: %v", index, r)
		}
	}()

	err = o.deps.Gate.Run(ctx, func(ctx context.Context) error {
		log.Debug("Admission acquired")

		prompt := o.deps.Prompt.Build(PromptData{
			SceneIndex: index,
			SceneTotal: req.Scenes,
			Genre:      req.Genre,
			Tone:       req.Tone,
			Additional: req.TextPromptAddendum,
		})

		modelName := req.Model
		if modelName == "" {
			modelName = o.cfg.DefaultModel
		}
		raw, err := taskrunner.Run(ctx, o.deps.Runner, o.cfg.TextTimeout, func(ctx context.Context) (normalizer.Value, error) {
			return o.deps.Text.Generate(ctx, modelName, prompt)
		})
		if err != nil {
			return fmt.Errorf("text generation: %w", err)
		}

		text := safeText(log, raw)
		imagePrompt, narrative := ExtractImagePrompt(text, req.ImagePromptAddendum)
		log.Info("Scene text received, starting image generation", zap.Int("image_prompt_len", len(imagePrompt)))

		path, err := taskrunner.Run(ctx, o.deps.Runner, o.cfg.ImageTimeout, func(ctx context.Context) (string, error) {
			return o.deps.Images.Generate(ctx, imagegen.Request{
				Model:          o.cfg.ImageModel,
				Prompt:         imagePrompt,
				NegativePrompt: o.cfg.NegativePrompt,
				Width:          o.cfg.Width,
				Height:         o.cfg.Height,
			})
		})
		if err != nil {
			return fmt.Errorf("image generation: %w", err)
		}

		log.Info("Scene completed", zap.String("image_path", path))
		scene = model.Scene{Index: index, Text: narrative, ImagePath: path}
		return nil
	})
	return scene, err
}

// safeText извлекает текст ответа; любая паника дает пустую строку.
func safeText(log *zap.Logger, v normalizer.Value) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Failed to extract text from response", zap.Any("panic", r))
			text = ""
		}
	}()
	return normalizer.Text(v)
}
