package story

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
)

//go:embed prompts/scene.md
var defaultSceneTemplate string

// PromptData - значения плейсхолдеров шаблона сцены.
type PromptData struct {
	SceneIndex int
	SceneTotal int
	Genre      string
	Tone       string
	Context    string
	Additional string
}

// PromptBuilder подставляет данные сцены в шаблон.
type PromptBuilder struct {
	template string
}

// NewPromptBuilder загружает шаблон из path; пустой path - встроенный шаблон.
func NewPromptBuilder(path string) (*PromptBuilder, error) {
	if path == "" {
		return &PromptBuilder{template: defaultSceneTemplate}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("prompt template %s is empty", path)
	}
	return &PromptBuilder{template: string(data)}, nil
}

// Build возвращает промпт для одной сцены.
func (b *PromptBuilder) Build(d PromptData) string {
	r := strings.NewReplacer(
		"{{SCENE_INDEX}}", strconv.Itoa(d.SceneIndex),
		"{{SCENE_TOTAL}}", strconv.Itoa(d.SceneTotal),
		"{{GENRE}}", d.Genre,
		"{{TONE}}", d.Tone,
		"{{CONTEXT}}", d.Context,
		"{{ADDITIONAL}}", d.Additional,
	)
	return r.Replace(b.template)
}
