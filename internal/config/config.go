// Package config загружает конфигурацию сервиса из окружения, .env файла и секретов.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"storyforge/internal/logger"
)

// Config структура для хранения всей конфигурации приложения.
type Config struct {
	AppEnv         string   `env:"APP_ENV" env-default:"development"`
	HTTPPort       string   `env:"HTTP_PORT" env-default:"8080"`
	PushGatewayURL string   `env:"PUSHGATEWAY_URL"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	Logger         logger.Config
	Pipeline       PipelineConfig
	Image          ImageConfig
	Storage        StorageConfig
	RabbitMQ       RabbitMQConfig
	RateLimit      RateLimitConfig

	// Text читается через envconfig, ключ - из секрета
	Text TextConfig
}

// PipelineConfig параметры конвейера сцен.
type PipelineConfig struct {
	TextTimeout        time.Duration `env:"TEXT_TIMEOUT" env-default:"720h"`
	ImageTimeout       time.Duration `env:"IMAGE_TIMEOUT" env-default:"960h"`
	AdmissionLimit     int64         `env:"ADMISSION_LIMIT" env-default:"1"`
	MaxScenes          int           `env:"MAX_SCENES" env-default:"20"`
	PromptTemplatePath string        `env:"STORY_PROMPT_TEMPLATE_PATH"`
	StoryOutputDir     string        `env:"STORY_OUTPUT_DIR" env-default:"Story"`
	JobRetention       time.Duration `env:"JOB_RETENTION" env-default:"24h"`
}

// ImageConfig конфигурация бэкенда изображений и опроса артефактов.
type ImageConfig struct {
	BaseURL        string        `env:"IMAGE_BASE_URL" env-default:"http://localhost:8188"`
	OutputDir      string        `env:"IMAGE_OUTPUT_DIR" env-default:"ComfyUI/output"`
	WorkflowPath   string        `env:"IMAGE_WORKFLOW_PATH"`
	Model          string        `env:"IMAGE_MODEL" env-default:"Juggernaut-XI-byRunDiffusion.safetensors"`
	NegativePrompt string        `env:"IMAGE_NEGATIVE_PROMPT" env-default:"Bad anatomy, Low quality, incorrect object placements"`
	Width          int           `env:"IMAGE_WIDTH" env-default:"1024"`
	Height         int           `env:"IMAGE_HEIGHT" env-default:"1024"`
	PollInterval   time.Duration `env:"IMAGE_POLL_INTERVAL" env-default:"800ms"`
	PollTimeout    time.Duration `env:"IMAGE_POLL_TIMEOUT" env-default:"10m"`
	SubmitTimeout  time.Duration `env:"IMAGE_SUBMIT_TIMEOUT" env-default:"20s"`
	StatusTimeout  time.Duration `env:"IMAGE_STATUS_TIMEOUT" env-default:"15s"`
	ResponseShapes []string      `env:"IMAGE_RESPONSE_SHAPES" env-default:"outputs,executions,keyed" env-separator:","`
}

// StorageConfig хранилище готовых историй. Пустой DatabaseURL - файловое хранилище.
type StorageConfig struct {
	DatabaseURL   string        `env:"DATABASE_URL"`
	DBMaxConns    int32         `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	CacheTTL      time.Duration `env:"STORY_CACHE_TTL" env-default:"1h"`
}

// RabbitMQConfig конфигурация очереди задач. Пустой URL отключает воркер.
type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	ConsumerName    string `env:"RABBITMQ_CONSUMER_NAME" env-default:"storyforge_worker"`
	TaskQueueName   string `env:"STORY_GENERATION_TASK_QUEUE" env-default:"story_generation_tasks"`
	ResultQueueName string `env:"STORY_GENERATION_RESULT_QUEUE" env-default:"story_generation_results"`
	Prefetch        int    `env:"RABBITMQ_PREFETCH" env-default:"1"`
}

// RateLimitConfig ограничение частоты запросов на генерацию.
type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" env-default:"10"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// TextConfig конфигурация текстового бэкенда.
type TextConfig struct {
	ClientType   string        `envconfig:"TEXT_CLIENT_TYPE" default:"openai"`
	BaseURL      string        `envconfig:"TEXT_BASE_URL" default:"http://localhost:1234/v1"`
	DefaultModel string        `envconfig:"TEXT_DEFAULT_MODEL" default:"gpt-oss-20B"`
	Temperature  float64       `envconfig:"TEXT_TEMPERATURE" default:"0.6"`
	HTTPTimeout  time.Duration `envconfig:"TEXT_HTTP_TIMEOUT" default:"0s"`
	// Секретное поле без envconfig тега
	APIKey string `ignored:"true"`
}

const textAPIKeySecret = "text_api_key"

// SecretsDir - каталог Docker secrets.
var SecretsDir = "/run/secrets"

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() (*Config, error) {
	// Файла .env может не быть
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	cfg.Logger.Env = cfg.AppEnv
	if err := envconfig.Process("", &cfg.Text); err != nil {
		return nil, fmt.Errorf("error loading text backend configuration: %w", err)
	}

	key, err := ReadSecret(textAPIKeySecret)
	if err != nil {
		key = os.Getenv("TEXT_API_KEY")
	}
	cfg.Text.APIKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.TextTimeout <= 0 {
		errs = append(errs, errors.New("TEXT_TIMEOUT must be positive"))
	}
	if c.Pipeline.ImageTimeout <= 0 {
		errs = append(errs, errors.New("IMAGE_TIMEOUT must be positive"))
	}
	if c.Pipeline.AdmissionLimit < 1 {
		errs = append(errs, errors.New("ADMISSION_LIMIT must be at least 1"))
	}
	if c.Pipeline.MaxScenes < 1 {
		errs = append(errs, errors.New("MAX_SCENES must be at least 1"))
	}
	if c.Image.PollInterval <= 0 || c.Image.PollTimeout <= 0 {
		errs = append(errs, errors.New("IMAGE_POLL_INTERVAL and IMAGE_POLL_TIMEOUT must be positive"))
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		errs = append(errs, errors.New("IMAGE_WIDTH and IMAGE_HEIGHT must be positive"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ReadSecret читает секрет из SecretsDir/<name>.
func ReadSecret(name string) (string, error) {
	filePath := SecretsDir + "/" + name
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// MaskedDatabaseURL возвращает DSN с замаскированным паролем для логирования.
func (c *Config) MaskedDatabaseURL() string {
	dsn := c.Storage.DatabaseURL
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userInfo := dsn[:at]
	colon := strings.LastIndex(userInfo, ":")
	if colon < 0 || strings.HasPrefix(userInfo[colon:], "://") {
		return dsn
	}
	return userInfo[:colon+1] + "********" + dsn[at:]
}
