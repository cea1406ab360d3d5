package progress

import (
	"sync"

	"github.com/maltedev/company-scraper/internal/models"
)

// Snapshot keeps the latest state of the most recent task for readers such
// as the HTTP API.
type Snapshot struct {
	mu   sync.RWMutex
	task models.TaskState
	has  bool
}

func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

func (s *Snapshot) Publish(update models.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.task = update.Task.Clone()
	s.has = true
}

// Current returns a copy of the latest state and whether any task was seen.
func (s *Snapshot) Current() (models.TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.task.Clone(), s.has
}

func (s *Snapshot) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.has && !s.task.Status.Terminal()
}
