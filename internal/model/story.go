package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerationRequest описывает запрос на генерацию истории.
type GenerationRequest struct {
	Title               string `json:"title"`
	Genre               string `json:"genre"`
	TextPromptAddendum  string `json:"additionalTextPrompt"`
	ImagePromptAddendum string `json:"additionalImagePrompt"`
	Scenes              int    `json:"scenes"`
	Tone                string `json:"tone"`
	Model               string `json:"model,omitempty"`
}

// UnmarshalJSON принимает также старые имена полей (additonalTextPrompt / additonalImagePrompt),
// которые до сих пор присылают существующие клиенты.
func (r *GenerationRequest) UnmarshalJSON(data []byte) error {
	type plain GenerationRequest
	var aux struct {
		plain
		LegacyText  *string `json:"additonalTextPrompt"`
		LegacyImage *string `json:"additonalImagePrompt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = GenerationRequest(aux.plain)
	if r.TextPromptAddendum == "" && aux.LegacyText != nil {
		r.TextPromptAddendum = *aux.LegacyText
	}
	if r.ImagePromptAddendum == "" && aux.LegacyImage != nil {
		r.ImagePromptAddendum = *aux.LegacyImage
	}
	return nil
}

// Validate проверяет запрос. maxScenes <= 0 отключает верхнюю границу.
func (r GenerationRequest) Validate(maxScenes int) error {
	if r.Scenes < 1 {
		return fmt.Errorf("%w: scenes must be positive, got %d", ErrInvalidRequest, r.Scenes)
	}
	if maxScenes > 0 && r.Scenes > maxScenes {
		return fmt.Errorf("%w: scenes must not exceed %d, got %d", ErrInvalidRequest, maxScenes, r.Scenes)
	}
	return nil
}

// Scene - одна сцена истории. ImagePath пуст, если изображение получить не удалось.
type Scene struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	ImagePath string `json:"imagePath"`
}

// StoryResult - итоговый артефакт: заголовок и сцены в порядке запроса.
type StoryResult struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Scenes    []Scene   `json:"scenes" db:"scenes"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// FailedScenes возвращает количество сцен без изображения.
func (s StoryResult) FailedScenes() int {
	n := 0
	for _, sc := range s.Scenes {
		if sc.ImagePath == "" {
			n++
		}
	}
	return n
}
