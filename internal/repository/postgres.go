package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	pgxV5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyforge/internal/model"
)

const (
	upsertStoryQuery = `
        INSERT INTO stories (id, title, scenes, scene_count, failed_scenes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            title = EXCLUDED.title,
            scenes = EXCLUDED.scenes,
            scene_count = EXCLUDED.scene_count,
            failed_scenes = EXCLUDED.failed_scenes`
	getStoryByIDQuery = `SELECT id, title, scenes, created_at FROM stories WHERE id = $1`
	listStoriesQuery  = `SELECT id, title, scenes, created_at FROM stories ORDER BY created_at DESC LIMIT $1 OFFSET $2`
)

// postgresStoryRepository реализует StoryRepository для PostgreSQL.
type postgresStoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStoryRepository создает репозиторий историй в PostgreSQL.
func NewPostgresStoryRepository(db *pgxpool.Pool, logger *zap.Logger) StoryRepository {
	return &postgresStoryRepository{db: db, logger: logger.Named("PostgresStoryRepo")}
}

func (r *postgresStoryRepository) Save(ctx context.Context, story *model.StoryResult) error {
	log := r.logger.With(zap.String("story_id", story.ID.String()))

	scenes := story.Scenes
	if scenes == nil {
		scenes = []model.Scene{}
	}
	scenesJSON, err := json.Marshal(scenes)
	if err != nil {
		return fmt.Errorf("failed to marshal scenes of story %s: %w", story.ID, err)
	}

	_, err = r.db.Exec(ctx, upsertStoryQuery,
		story.ID,
		story.Title,
		scenesJSON,
		len(story.Scenes),
		story.FailedScenes(),
		story.CreatedAt,
	)
	if err != nil {
		log.Error("Failed to save story", zap.Error(err))
		return fmt.Errorf("failed to save story %s: %w", story.ID, err)
	}

	log.Info("Story saved", zap.Int("scenes", len(story.Scenes)))
	return nil
}

func (r *postgresStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryResult, error) {
	var story model.StoryResult
	if err := pgxscan.Get(ctx, r.db, &story, getStoryByIDQuery, id); err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return nil, fmt.Errorf("%w: story %s", model.ErrNotFound, id)
		}
		r.logger.Error("Failed to get story", zap.String("story_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return &story, nil
}

func (r *postgresStoryRepository) List(ctx context.Context, limit, offset int) ([]*model.StoryResult, error) {
	limit, offset = normalizePage(limit, offset)

	stories := make([]*model.StoryResult, 0)
	if err := pgxscan.Select(ctx, r.db, &stories, listStoriesQuery, limit, offset); err != nil {
		r.logger.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}
