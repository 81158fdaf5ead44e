package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyforge/internal/model"
)

const storyCacheKeyPrefix = "story:"

// cachedStoryRepository - кэш Redis поверх другого StoryRepository.
// Ошибки Redis не являются ошибками чтения или записи: запрос уходит в основное хранилище.
type cachedStoryRepository struct {
	next   StoryRepository
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStoryRepository оборачивает next кэшем с временем жизни ttl.
func NewCachedStoryRepository(next StoryRepository, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) StoryRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &cachedStoryRepository{next: next, rdb: rdb, ttl: ttl, logger: logger.Named("StoryCache")}
}

func cacheKey(id uuid.UUID) string {
	return storyCacheKeyPrefix + id.String()
}

func (r *cachedStoryRepository) Save(ctx context.Context, story *model.StoryResult) error {
	if err := r.next.Save(ctx, story); err != nil {
		return err
	}
	r.put(ctx, story)
	return nil
}

func (r *cachedStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryResult, error) {
	log := r.logger.With(zap.String("story_id", id.String()))

	data, err := r.rdb.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var story model.StoryResult
		decodeErr := json.Unmarshal(data, &story)
		if decodeErr == nil {
			log.Debug("Story cache hit")
			return &story, nil
		}
		log.Warn("Corrupted cache entry, reloading", zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
		log.Debug("Story cache miss")
	default:
		log.Warn("Redis get failed, falling back to storage", zap.Error(err))
	}

	story, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.put(ctx, story)
	return story, nil
}

func (r *cachedStoryRepository) List(ctx context.Context, limit, offset int) ([]*model.StoryResult, error) {
	return r.next.List(ctx, limit, offset)
}

func (r *cachedStoryRepository) put(ctx context.Context, story *model.StoryResult) {
	data, err := json.Marshal(story)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKey(story.ID), data, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to cache story", zap.String("story_id", story.ID.String()), zap.Error(err))
	}
}
