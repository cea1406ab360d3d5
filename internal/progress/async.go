package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/queue"
)

// Async queues updates and hands them to next from a single goroutine, so
// Publish returns immediately and updates arrive in publication order.
type Async struct {
	next   Reporter
	queue  *queue.InMemoryQueue[models.Update]
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(next Reporter, logger *slog.Logger) *Async {
	a := &Async{
		next:   next,
		queue:  queue.NewInMemoryQueue[models.Update](),
		logger: logger.With("component", "progress_async"),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *Async) Publish(update models.Update) {
	update.Task = update.Task.Clone()
	if err := a.queue.Push(update); err != nil {
		a.logger.Warn("dropping update after close", "kind", update.Kind, "task_id", update.Task.ID)
	}
}

// Pending returns the number of queued updates not yet delivered.
func (a *Async) Pending() int {
	return a.queue.Size()
}

// Close stops accepting updates and waits until the queued ones are
// delivered or ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		_ = a.queue.Close()
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) drain() {
	defer close(a.done)

	for {
		update, err := a.queue.Pop(context.Background())
		if errors.Is(err, queue.ErrQueueClosed) {
			return
		}
		if err != nil {
			a.logger.Error("failed to read update", "error", err)
			return
		}
		a.deliver(update)
	}
}

func (a *Async) deliver(update models.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("progress consumer panicked", "kind", update.Kind, "panic", r)
		}
	}()
	a.next.Publish(update)
}
