package story_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/internal/story"
)

func TestPromptBuilder_EmbeddedTemplate(t *testing.T) {
	b, err := story.NewPromptBuilder("")
	require.NoError(t, err)

	prompt := b.Build(story.PromptData{
		SceneIndex: 2,
		SceneTotal: 5,
		Genre:      "fantasy",
		Tone:       "dark",
		Additional: "The hero is called Mira.",
	})

	assert.Contains(t, prompt, "scene 2 of 5")
	assert.Contains(t, prompt, "genre fantasy")
	assert.Contains(t, prompt, "tone 'dark'")
	assert.Contains(t, prompt, "The hero is called Mira.")
	assert.Contains(t, prompt, "IMAGE_PROMPT: ")
	assert.NotContains(t, prompt, "{{")
}

func TestPromptBuilder_TemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.md")
	require.NoError(t, os.WriteFile(path, []byte("{{SCENE_INDEX}}/{{SCENE_TOTAL}} {{GENRE}} {{TONE}} [{{CONTEXT}}] {{ADDITIONAL}}"), 0o644))

	b, err := story.NewPromptBuilder(path)
	require.NoError(t, err)

	assert.Equal(t, "1/3 sci-fi calm [] none", b.Build(story.PromptData{
		SceneIndex: 1, SceneTotal: 3, Genre: "sci-fi", Tone: "calm", Additional: "none",
	}))
}

func TestPromptBuilder_MissingFile(t *testing.T) {
	_, err := story.NewPromptBuilder(filepath.Join(t.TempDir(), "absent.md"))
	assert.Error(t, err)
}
