package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/model"
)

// fileStoryRepository хранит каждую историю в <dir>/<id>.json.
type fileStoryRepository struct {
	dir    string
	logger *zap.Logger
}

// NewFileStoryRepository создает файловое хранилище, каталог создается при необходимости.
func NewFileStoryRepository(dir string, logger *zap.Logger) (StoryRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create story dir %s: %w", model.ErrResourceUnavailable, dir, err)
	}
	return &fileStoryRepository{dir: dir, logger: logger.Named("FileStoryRepo")}, nil
}

func (r *fileStoryRepository) path(id uuid.UUID) string {
	return filepath.Join(r.dir, id.String()+".json")
}

func (r *fileStoryRepository) Save(ctx context.Context, story *model.StoryResult) error {
	data, err := json.MarshalIndent(story, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal story %s: %w", story.ID, err)
	}

	// запись через временный файл, чтобы читатель не увидел половину JSON
	tmp, err := os.CreateTemp(r.dir, ".story-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write story %s: %w", story.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(story.ID)); err != nil {
		return fmt.Errorf("failed to store story %s: %w", story.ID, err)
	}

	r.logger.Info("Story saved", zap.String("story_id", story.ID.String()), zap.String("path", r.path(story.ID)))
	return nil
}

func (r *fileStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryResult, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: story %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read story %s: %w", id, err)
	}

	var story model.StoryResult
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", id, err)
	}
	return &story, nil
}

func (r *fileStoryRepository) List(ctx context.Context, limit, offset int) ([]*model.StoryResult, error) {
	limit, offset = normalizePage(limit, offset)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list story dir: %w", err)
	}

	stories := make([]*model.StoryResult, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		story, err := r.GetByID(ctx, id)
		if err != nil {
			r.logger.Warn("Skipping unreadable story file", zap.String("file", name), zap.Error(err))
			continue
		}
		stories = append(stories, story)
	}

	sort.Slice(stories, func(i, j int) bool {
		return stories[i].CreatedAt.After(stories[j].CreatedAt)
	})

	if offset >= len(stories) {
		return []*model.StoryResult{}, nil
	}
	end := offset + limit
	if end > len(stories) {
		end = len(stories)
	}
	return stories[offset:end], nil
}
