// Package jobs управляет асинхронными задачами генерации историй.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/metrics"
	"storyforge/internal/model"
	"storyforge/internal/story"
)

// Status статус задачи.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished сообщает, что статус конечный.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrTooManyJobs   = errors.New("too many active jobs")
	ErrManagerClosed = errors.New("job manager is shut down")
	ErrJobFinished   = errors.New("job already finished")
)

// Job - снимок состояния задачи.
type Job struct {
	ID        uuid.UUID          `json:"task_id"`
	Status    Status             `json:"status"`
	Progress  int                `json:"progress"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	Result    *model.StoryResult `json:"result,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Func выполняет задачу, сообщая о ходе генерации через sink.
type Func func(ctx context.Context, sink story.ProgressSink) (*model.StoryResult, error)

// Callback вызывается при каждом событии задачи.
type Callback func(ev Event)

// Notifier получает события всех задач (например, websocket hub).
type Notifier interface {
	Notify(ev Event)
}

// Config настройки менеджера.
type Config struct {
	MaxActive int
}

type entry struct {
	job    Job
	cancel context.CancelFunc
	total  int
}

// Manager хранит задачи в памяти и запускает их в отдельных горутинах.
type Manager struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*entry
	callbacks map[uuid.UUID][]Callback
	notifier  Notifier
	maxActive int
	closed    bool
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// New создает Manager. MaxActive <= 0 - 10 активных задач.
func New(cfg Config, logger *zap.Logger) *Manager {
	maxActive := cfg.MaxActive
	if maxActive <= 0 {
		maxActive = 10
	}
	return &Manager{
		jobs:      make(map[uuid.UUID]*entry),
		callbacks: make(map[uuid.UUID][]Callback),
		maxActive: maxActive,
		logger:    logger.Named("JobManager"),
	}
}

// SetNotifier устанавливает получателя событий всех задач.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Submit регистрирует задачу и запускает ее.
func (m *Manager) Submit(fn Func) (uuid.UUID, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return uuid.Nil, ErrManagerClosed
	}
	active := 0
	for _, e := range m.jobs {
		if !e.job.Status.Finished() {
			active++
		}
	}
	if active >= m.maxActive {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: limit %d", ErrTooManyJobs, m.maxActive)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	e := &entry{
		job:    Job{ID: uuid.New(), Status: StatusPending, CreatedAt: now, UpdatedAt: now},
		cancel: cancel,
	}
	m.jobs[e.job.ID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.RecordJob(string(StatusPending))
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, e.job.ID, fn)
	}()
	return e.job.ID, nil
}

func (m *Manager) run(ctx context.Context, id uuid.UUID, fn Func) {
	log := m.logger.With(zap.String("task_id", id.String()))
	if !m.transition(id, StatusRunning, "generation started", "", nil) {
		return
	}

	result, err := fn(ctx, &reporter{m: m, id: id})

	switch {
	case ctx.Err() != nil:
		log.Info("Job context cancelled")
		m.transition(id, StatusCancelled, "job cancelled", "", nil)
	case err != nil:
		log.Error("Job failed", zap.Error(err))
		m.transition(id, StatusFailed, "job failed", err.Error(), nil)
	default:
		log.Info("Job completed", zap.Int("failed_scenes", result.FailedScenes()))
		m.transition(id, StatusCompleted, "job completed", "", result)
	}
}

// transition меняет статус, если задача еще не завершена. Возвращает false для завершенной задачи.
func (m *Manager) transition(id uuid.UUID, status Status, message, errText string, result *model.StoryResult) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.Finished() {
		m.mu.Unlock()
		return false
	}
	e.job.Status = status
	e.job.Message = message
	e.job.Error = errText
	if status.Finished() {
		e.job.Progress = 100
	}
	if result != nil {
		e.job.Result = result
	}
	e.job.UpdatedAt = time.Now().UTC()
	ev := Event{Type: string(status), Job: e.job}
	m.mu.Unlock()

	metrics.RecordJob(string(status))
	m.emit(ev)
	return true
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	callbacks := append([]Callback(nil), m.callbacks[ev.Job.ID]...)
	notifier := m.notifier
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(ev)
	}
	if notifier != nil {
		notifier.Notify(ev)
	}
}

// Get возвращает снимок задачи.
func (m *Manager) Get(id uuid.UUID) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	return e.job, nil
}

// Cancel отменяет выполняющуюся задачу.
func (m *Manager) Cancel(id uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	if e.job.Status.Finished() {
		m.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrJobFinished, e.job.Status)
	}
	cancel := e.cancel
	m.mu.Unlock()

	cancel()
	m.transition(id, StatusCancelled, "job cancelled by user", "", nil)
	return nil
}

// RegisterCallback подписывает callback на события задачи.
func (m *Manager) RegisterCallback(id uuid.UUID, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	m.callbacks[id] = append(m.callbacks[id], cb)
	return nil
}

// UnregisterCallbacks удаляет все callback задачи.
func (m *Manager) UnregisterCallbacks(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, id)
}

// CleanupFinished удаляет завершенные задачи старше age. Возвращает число удаленных.
func (m *Manager) CleanupFinished(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, e := range m.jobs {
		if e.job.Status.Finished() && now.Sub(e.job.UpdatedAt) > age {
			delete(m.jobs, id)
			delete(m.callbacks, id)
			removed++
		}
	}
	return removed
}

// Active возвращает число незавершенных задач.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.jobs {
		if !e.job.Status.Finished() {
			n++
		}
	}
	return n
}

// Shutdown отменяет все задачи и ждет их завершения или истечения ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, e := range m.jobs {
		if !e.job.Status.Finished() {
			e.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for jobs to finish: %w", ctx.Err())
	}
}
