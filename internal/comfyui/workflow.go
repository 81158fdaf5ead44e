package comfyui

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"
)

//go:embed workflows/default.json
var workflowFS embed.FS

// Узлы шаблона workflow, которые заполняются для каждой задачи.
const (
	nodeSampler  = "3"
	nodeModel    = "4"
	nodeLatent   = "5"
	nodePositive = "6"
	nodeNegative = "7"
	nodeSave     = "9"
)

// Workflow - граф узлов ComfyUI в формате API.
type Workflow map[string]interface{}

// loadWorkflowTemplate читает шаблон из файла или встроенный шаблон по умолчанию.
func loadWorkflowTemplate(path string) ([]byte, error) {
	if path == "" {
		return workflowFS.ReadFile("workflows/default.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template %s: %w", path, err)
	}
	return data, nil
}

type inputSet struct {
	node, key string
	value     interface{}
}

// buildWorkflow разбирает шаблон заново для каждой задачи и подставляет параметры job.
func buildWorkflow(template []byte, job Job) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(template, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow template: %w", err)
	}

	sets := []inputSet{
		{nodeSampler, "seed", rand.Intn(math.MaxInt32)},
		{nodeModel, "ckpt_name", job.Model},
		{nodePositive, "text", sanitizePrompt(job.Prompt)},
		{nodeLatent, "width", job.Width},
		{nodeLatent, "height", job.Height},
		{nodeSave, "filename_prefix", job.Handle},
	}
	if strings.TrimSpace(job.NegativePrompt) != "" {
		sets = append(sets, inputSet{nodeNegative, "text", sanitizePrompt(job.NegativePrompt)})
	}

	for _, s := range sets {
		if err := wf.setInput(s.node, s.key, s.value); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func (wf Workflow) setInput(node, key string, value interface{}) error {
	n, ok := wf[node].(map[string]interface{})
	if !ok {
		return fmt.Errorf("workflow template has no node %q", node)
	}
	inputs, ok := n["inputs"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("workflow node %q has no inputs", node)
	}
	inputs[key] = value
	return nil
}

// sanitizePrompt заменяет двойные кавычки на одинарные и удаляет обратные слэши.
func sanitizePrompt(s string) string {
	return strings.NewReplacer(`"`, `'`, `\`, "").Replace(s)
}
