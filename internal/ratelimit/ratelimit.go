package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Waiter pauses the caller. Implementations must return early with
// ctx.Err() when the context is cancelled.
type Waiter interface {
	Wait(ctx context.Context) error
}

// JitterLimiter waits a random duration in [min, max) on every call.
// It is used to space out clicks so they look less mechanical.
type JitterLimiter struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
}

func NewJitterLimiter(minDelay, maxDelay time.Duration) *JitterLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *JitterLimiter) Wait(ctx context.Context) error {
	return Sleep(ctx, r.Next())
}

// Next returns the delay the following Wait would use.
func (r *JitterLimiter) Next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.minDelay == r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(r.rnd.Int63n(int64(delta)))
}

// Fixed waits the same duration every time.
type Fixed time.Duration

func (f Fixed) Wait(ctx context.Context) error {
	return Sleep(ctx, time.Duration(f))
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
