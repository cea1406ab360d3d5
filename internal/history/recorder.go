package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/company-scraper/internal/models"
)

// Recorder is a progress reporter that stores the first and the last
// snapshot of every task. Intermediate updates are not persisted.
type Recorder struct {
	repo    TaskRepository
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(repo TaskRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		timeout: 10 * time.Second,
		logger:  logger.With("component", "history_recorder"),
	}
}

func (r *Recorder) Publish(update models.Update) {
	if update.Kind != models.UpdateStarted && update.Kind != models.UpdateFinished {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Save(ctx, update.Task); err != nil {
		r.logger.Error("failed to record task", "task_id", update.Task.ID, "kind", update.Kind, "error", err)
		return
	}
	r.logger.Debug("task recorded", "task_id", update.Task.ID, "status", update.Task.Status)
}
