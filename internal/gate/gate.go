// Package gate ограничивает число одновременно выполняемых тяжелых задач (текст + изображение).
package gate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"storyforge/internal/model"
)

// Gate - счетный семафор с фиксированной емкостью.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
}

// New создает Gate. Емкость меньше 1 приводится к 1.
func New(capacity int64) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Run выполняет fn, удерживая одно разрешение. Разрешение освобождается при любом выходе из fn,
// в том числе при панике. Если ctx отменен во время ожидания, fn не вызывается.
func (g *Gate) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for admission: %w", model.ErrCancelled, err)
	}
	g.inUse.Add(1)
	defer func() {
		g.inUse.Add(-1)
		g.sem.Release(1)
	}()

	return fn(ctx)
}

// Capacity возвращает емкость.
func (g *Gate) Capacity() int64 { return g.capacity }

// InUse возвращает число занятых разрешений.
func (g *Gate) InUse() int64 { return g.inUse.Load() }
