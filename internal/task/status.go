package task

import (
	"errors"

	"github.com/maltedev/company-scraper/internal/models"
)

var (
	ErrLockout   = errors.New("session locked out")
	ErrCancelled = errors.New("task cancelled")
	ErrNoTargets = errors.New("no targets to scrape")
)

const (
	ReasonLockout   = "Session expired. Reconnect the account, please"
	ReasonCancelled = "Scraping was cancelled"
)

// ComputeStatus maps the final counters of a batch that was not aborted to
// its terminal status.
func ComputeStatus(successCount, total int) models.TaskStatus {
	switch {
	case successCount >= total:
		return models.StatusCompleted
	case successCount > 0:
		return models.StatusPartial
	default:
		return models.StatusFailed
	}
}
