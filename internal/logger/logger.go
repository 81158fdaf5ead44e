// Package logger собирает zap.Logger из конфигурации сервиса.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "storyforge"

// Config содержит настройки для логгера.
// Пустые Level и Encoding выбираются по окружению: в development пишем
// цветной console на уровне debug, иначе json на уровне info.
type Config struct {
	Level      string `env:"LOG_LEVEL"`    // debug, info, warn, error
	Encoding   string `env:"LOG_ENCODING"` // json или console
	OutputPath string `env:"LOG_OUTPUT_PATH"`
	Env        string `env:"APP_ENV" env-default:"development"`
}

func (c Config) development() bool {
	return strings.EqualFold(c.Env, "development")
}

func (c Config) level() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	name := strings.ToLower(c.Level)
	if name == "" {
		if c.development() {
			name = "debug"
		} else {
			name = "info"
		}
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		// Логгер еще не создан, пишем в stderr
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", c.Level, err)
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

func (c Config) encoding() string {
	switch enc := strings.ToLower(c.Encoding); enc {
	case "json", "console":
		return enc
	}
	if c.development() {
		return "console"
	}
	return "json"
}

// New создает zap.Logger на основе конфигурации.
func New(cfg Config) (*zap.Logger, error) {
	encoding := cfg.encoding()

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" && cfg.development() && cfg.OutputPath == "" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zapConfig := zap.Config{
		Level:             cfg.level(),
		DisableCaller:     !cfg.development(),
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if encoding == "json" {
		// В console имя сервиса только мешает читать строку
		zapConfig.InitialFields = map[string]interface{}{"service": serviceName}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
