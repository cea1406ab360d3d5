package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/maltedev/company-scraper/internal/models"
)

var (
	ErrBusy       = errors.New("a task is already running")
	ErrNotRunning = errors.New("no task is running")
)

type Runner interface {
	Run(ctx context.Context, req Request) (models.TaskState, error)
}

// Manager runs at most one batch at a time in the background.
type Manager struct {
	runner Runner
	base   context.Context
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    models.TaskState
	lastErr error
}

// NewManager ties every batch to ctx; cancelling it cancels the running
// batch.
func NewManager(ctx context.Context, runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		runner: runner,
		base:   ctx,
		logger: logger.With("component", "task_manager"),
	}
}

// Start launches req and returns its task ID.
func (m *Manager) Start(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = NewID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return "", ErrBusy
	}

	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		defer cancel()

		state, err := m.runner.Run(ctx, req)
		if err != nil {
			m.logger.Warn("task ended with error", "task_id", req.ID, "error", err)
		}

		m.mu.Lock()
		m.last, m.lastErr = state, err
		m.cancel = nil
		m.mu.Unlock()
	}()

	m.logger.Info("task scheduled", "task_id", req.ID, "kind", req.Kind, "targets", len(req.Targets))
	return req.ID, nil
}

func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return ErrNotRunning
	}
	m.cancel()
	return nil
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Wait blocks until the current batch, if any, has finished and returns its
// final state.
func (m *Manager) Wait(ctx context.Context) (models.TaskState, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return models.TaskState{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Clone(), m.lastErr
}
