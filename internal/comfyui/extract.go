package comfyui

import (
	"fmt"
	"path"
	"strings"

	"storyforge/internal/normalizer"
)

// ShapeExtractor ищет путь к артефакту в ответе канала статуса. Пустая строка - ничего не найдено.
type ShapeExtractor func(resp normalizer.Value, jobID string) string

// Поддерживаемые формы ответа /history в порядке приоритета по умолчанию.
const (
	ShapeOutputs    = "outputs"    // {"outputs": ...}
	ShapeExecutions = "executions" // {"executions": [{"outputs": ...}]}
	ShapeKeyedByID  = "keyed"      // {"<job id>": {"outputs": ...}}
)

// DefaultShapes - порядок проверки форм ответа по умолчанию.
var DefaultShapes = []string{ShapeOutputs, ShapeExecutions, ShapeKeyedByID}

var builtinShapes = map[string]ShapeExtractor{
	ShapeOutputs: func(resp normalizer.Value, _ string) string {
		return outputPath(resp.Get("outputs"), 0)
	},
	ShapeExecutions: func(resp normalizer.Value, _ string) string {
		for _, exec := range resp.Get("executions").Items() {
			if p := outputPath(exec.Get("outputs"), 0); p != "" {
				return p
			}
		}
		return ""
	},
	ShapeKeyedByID: func(resp normalizer.Value, jobID string) string {
		if jobID == "" {
			return ""
		}
		return outputPath(resp.Get(jobID).Get("outputs"), 0)
	},
}

// resolveShapes превращает имена форм в список экстракторов.
func resolveShapes(names []string) ([]ShapeExtractor, error) {
	if len(names) == 0 {
		names = DefaultShapes
	}
	out := make([]ShapeExtractor, 0, len(names))
	for _, n := range names {
		fn, ok := builtinShapes[strings.TrimSpace(strings.ToLower(n))]
		if !ok {
			return nil, fmt.Errorf("unknown response shape %q", n)
		}
		out = append(out, fn)
	}
	return out, nil
}

const maxOutputDepth = 4

// outputPath извлекает путь из описания выходов: список записей с path/file/image.path,
// объект с path, выходы узлов ComfyUI с images[].filename/subfolder или строку.
func outputPath(v normalizer.Value, depth int) string {
	if depth > maxOutputDepth {
		return ""
	}
	switch v.Kind() {
	case normalizer.KindScalar:
		return strings.TrimSpace(v.String())
	case normalizer.KindList:
		for _, item := range v.Items() {
			if p := entryPath(item, depth+1); p != "" {
				return p
			}
		}
	case normalizer.KindMapping:
		if p := scalarField(v, "path"); p != "" {
			return p
		}
		if images := v.Get("images"); !images.IsNull() {
			return outputPath(images, depth+1)
		}
		// Выходы, сгруппированные по id узла.
		for _, k := range v.Keys() {
			child := v.Get(k)
			if child.Kind() != normalizer.KindMapping {
				continue
			}
			if p := outputPath(child, depth+1); p != "" {
				return p
			}
		}
	}
	return ""
}

func entryPath(item normalizer.Value, depth int) string {
	switch item.Kind() {
	case normalizer.KindScalar:
		return strings.TrimSpace(item.String())
	case normalizer.KindMapping:
		for _, key := range []string{"path", "file"} {
			if p := scalarField(item, key); p != "" {
				return p
			}
		}
		if p := scalarField(item.Get("image"), "path"); p != "" {
			return p
		}
		if name := scalarField(item, "filename"); name != "" {
			return path.Join(scalarField(item, "subfolder"), name)
		}
		if images := item.Get("images"); !images.IsNull() {
			return outputPath(images, depth+1)
		}
	}
	return ""
}

func scalarField(v normalizer.Value, key string) string {
	f := v.Get(key)
	if f.Kind() != normalizer.KindScalar {
		return ""
	}
	return strings.TrimSpace(f.String())
}
