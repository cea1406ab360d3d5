// Package progress delivers task snapshots to whoever is watching a batch.
// Publishing never blocks the orchestrator; see Async.
package progress

import (
	"log/slog"

	"github.com/maltedev/company-scraper/internal/models"
)

type Reporter interface {
	Publish(update models.Update)
}

// Func adapts a plain function to a Reporter.
type Func func(update models.Update)

func (f Func) Publish(update models.Update) {
	f(update)
}

// Multi fans an update out to every reporter in order.
type Multi []Reporter

func (m Multi) Publish(update models.Update) {
	for _, r := range m {
		if r != nil {
			r.Publish(update)
		}
	}
}

// Nop drops every update.
type Nop struct{}

func (Nop) Publish(models.Update) {}

// Log writes updates to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "progress")}
}

func (l *Log) Publish(update models.Update) {
	task := update.Task
	attrs := []any{
		"task_id", task.ID,
		"kind", update.Kind,
		"status", task.Status,
		"current", task.Current,
		"total", task.Total,
		"success", task.SuccessCount,
		"failed", task.FailCount,
	}
	if task.Jobs != nil {
		attrs = append(attrs, "jobs", *task.Jobs)
	}

	switch update.Kind {
	case models.UpdateRecords:
		l.logger.Debug("task progress", attrs...)
	case models.UpdateFinished:
		if task.FailReason != "" {
			attrs = append(attrs, "reason", task.FailReason)
		}
		l.logger.Info("task finished", attrs...)
	default:
		l.logger.Info("task progress", attrs...)
	}
}
