// Package notify tells the user how a batch ended.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/company-scraper/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

var statusMessages = map[models.TaskStatus]string{
	models.StatusCompleted: "was completed successfully",
	models.StatusFailed:    "failed",
	models.StatusPartial:   "was partially completed",
}

// Title returns the notification title for a terminal status.
func Title(status models.TaskStatus) string {
	msg, ok := statusMessages[status]
	if !ok {
		msg = string(status)
	}
	return "Scraping " + msg
}

// Log writes notifications to the logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notifier")}
}

func (l *Log) Notify(_ context.Context, title, body string) error {
	l.logger.Info(title, "details", body)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
