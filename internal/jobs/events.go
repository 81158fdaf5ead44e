package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/model"
)

// Типы событий, кроме смены статуса (тип события совпадает со статусом).
const (
	EventSceneStarted  = "scene_started"
	EventSceneFinished = "scene_finished"
)

// Event - событие задачи: смена статуса или прогресс по сцене.
type Event struct {
	Type  string       `json:"type"`
	Job   Job          `json:"job"`
	Scene *model.Scene `json:"scene,omitempty"`
}

// reporter переводит события оркестратора в прогресс задачи.
type reporter struct {
	m  *Manager
	id uuid.UUID
}

func (r *reporter) SceneStarted(index, total int) {
	r.update(EventSceneStarted, fmt.Sprintf("generating scene %d of %d", index, total), index-1, total, nil)
}

func (r *reporter) SceneFinished(scene model.Scene, failed bool) {
	msg := fmt.Sprintf("scene %d finished", scene.Index)
	if failed {
		msg = fmt.Sprintf("scene %d failed, fallback used", scene.Index)
	}
	r.update(EventSceneFinished, msg, scene.Index, 0, &scene)
}

// update пересчитывает прогресс: done - число завершенных сцен.
func (r *reporter) update(eventType, message string, done, total int, scene *model.Scene) {
	m := r.m
	m.mu.Lock()
	e, ok := m.jobs[r.id]
	if !ok || e.job.Status.Finished() {
		m.mu.Unlock()
		return
	}
	if total > 0 {
		e.total = total
	}
	if e.total > 0 {
		e.job.Progress = done * 100 / e.total
	}
	e.job.Message = message
	e.job.UpdatedAt = time.Now().UTC()
	ev := Event{Type: eventType, Job: e.job, Scene: scene}
	m.mu.Unlock()

	m.emit(ev)
}
