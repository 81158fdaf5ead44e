// Package taskrunner выполняет блокирующие операции в отдельном пуле горутин
// с жестким таймаутом и отменой.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/internal/model"
)

// ErrRunnerClosed возвращается при попытке запустить задачу после Shutdown.
var ErrRunnerClosed = errors.New("task runner is shut down")

// ErrTaskPanicked оборачивает панику внутри задачи.
var ErrTaskPanicked = errors.New("task panicked")

type panicReporterKey struct{}

// Runner владеет пулом воркеров и отслеживает выполняющиеся задачи,
// чтобы отменить их при остановке процесса.
type Runner struct {
	pool   gopool.Pool
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[uuid.UUID]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New создает Runner с эластичным пулом: число воркеров не ограничено,
// ограничение параллелизма выполняется выше по стеку.
func New(logger *zap.Logger) *Runner {
	r := &Runner{
		pool:   gopool.NewPool("storyforge.TaskRunner", math.MaxInt32, gopool.NewConfig()),
		logger: logger.Named("TaskRunner"),
		tasks:  make(map[uuid.UUID]context.CancelFunc),
	}
	r.pool.SetPanicHandler(func(ctx context.Context, p interface{}) {
		if report, ok := ctx.Value(panicReporterKey{}).(func(interface{})); ok {
			report(p)
			return
		}
		r.logger.Error("Panic in task runner pool", zap.Any("panic", p))
	})
	return r
}

// Run выполняет task в пуле и ждет результат не дольше timeout (timeout <= 0 - без ограничения).
//
// Ошибка задачи возвращается без обертки. По таймауту контекст задачи отменяется
// и возвращается model.ErrTimeout; при отмене ctx вызывающего - model.ErrCancelled.
func Run[T any](ctx context.Context, r *Runner, timeout time.Duration, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %w", model.ErrCancelled, err)
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id, err := r.track(cancel)
	if err != nil {
		return zero, err
	}
	taskCtx = context.WithValue(taskCtx, panicReporterKey{}, func(p interface{}) {
		done <- outcome{err: fmt.Errorf("%w: %v", ErrTaskPanicked, p)}
	})

	r.pool.CtxGo(taskCtx, func() {
		defer r.untrack(id)
		v, err := task(taskCtx)
		done <- outcome{val: v, err: err}
	})

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case out := <-done:
		return out.val, out.err
	case <-deadline:
		r.logger.Warn("Task exceeded timeout, cancelling", zap.String("task_id", id.String()), zap.Duration("timeout", timeout))
		return zero, fmt.Errorf("%w: task did not finish within %s", model.ErrTimeout, timeout)
	case <-ctx.Done():
		r.logger.Info("Caller cancelled task", zap.String("task_id", id.String()), zap.Error(ctx.Err()))
		return zero, fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
	}
}

func (r *Runner) track(cancel context.CancelFunc) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return uuid.Nil, ErrRunnerClosed
	}
	id := uuid.New()
	r.tasks[id] = cancel
	r.wg.Add(1)
	return id, nil
}

func (r *Runner) untrack(id uuid.UUID) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
	r.wg.Done()
}

// Active возвращает число выполняющихся задач.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown отменяет все незавершенные задачи и ждет их завершения, но не дольше ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.tasks {
		cancel()
	}
	pending := len(r.tasks)
	r.mu.Unlock()

	r.logger.Info("Shutting down task runner", zap.Int("pending_tasks", pending))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks to stop: %w", ctx.Err())
	}
}
