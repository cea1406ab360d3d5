package task

import (
	"sync"
)

// AbortSignal is raised at most once per batch. The first raiser decides
// the error and reason; later calls are ignored.
type AbortSignal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	err    error
	reason string
}

func NewAbortSignal() *AbortSignal {
	return &AbortSignal{done: make(chan struct{})}
}

// Raise sets the signal and reports whether this call was the one that did.
func (a *AbortSignal) Raise(err error, reason string) bool {
	raised := false
	a.once.Do(func() {
		a.mu.Lock()
		a.err = err
		a.reason = reason
		a.mu.Unlock()
		close(a.done)
		raised = true
	})
	return raised
}

func (a *AbortSignal) Raised() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *AbortSignal) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *AbortSignal) Reason() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reason
}
