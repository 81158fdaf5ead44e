// Package repository хранит готовые истории: файлы, PostgreSQL и кэш в Redis.
package repository

import (
	"context"

	"github.com/google/uuid"

	"storyforge/internal/model"
)

// StoryRepository определяет методы хранения готовых историй.
type StoryRepository interface {
	// Save сохраняет историю (повторное сохранение перезаписывает ее).
	Save(ctx context.Context, story *model.StoryResult) error
	// GetByID возвращает историю или model.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*model.StoryResult, error)
	// List возвращает истории от новых к старым.
	List(ctx context.Context, limit, offset int) ([]*model.StoryResult, error)
}

const defaultListLimit = 20

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
