// Package extract turns a live page into fixed-shape result rows. Each data
// kind is a Strategy; the orchestrator picks one per batch and calls Extract
// once per target.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/ratelimit"
)

type Status string

const (
	StatusSuccess     Status = "success"
	StatusUnavailable Status = "unavailable"
	StatusFailed      Status = "failed"
)

// Succeeded reports whether the result counts towards the success counter.
// Unavailable pages are counted as failures.
func (s Status) Succeeded() bool {
	return s == StatusSuccess
}

// Result is the outcome for one target. Rows always match the strategy's
// Columns in width.
type Result struct {
	Target  string
	Status  Status
	Reason  string
	Rows    [][]string
	Records int
}

// Options are supplied by the caller per batch.
type Options struct {
	// PageDelay is applied after every successful extraction.
	PageDelay time.Duration
	// IncludeLocations enables the people-by-location breakdown.
	IncludeLocations bool
	// JobLocation is typed into the job search box when not empty.
	JobLocation string
	// OnRecord is called after every job record is parsed.
	OnRecord func()
}

type Strategy interface {
	Kind() models.TaskKind
	Columns() []string
	// Extract never returns an error; every failure is folded into the
	// Result status.
	Extract(ctx context.Context, page browser.Page, target string, opts Options) Result
}

// Timing holds the waits a strategy applies between page interactions.
type Timing struct {
	Settle  time.Duration
	Anchor  time.Duration
	Results time.Duration
	// Human is applied after every click that mimics a user.
	Human ratelimit.Waiter
}

func DefaultTiming() Timing {
	return Timing{
		Settle:  2 * time.Second,
		Anchor:  5 * time.Second,
		Results: 10 * time.Second,
		Human:   ratelimit.NewJitterLimiter(time.Second, 2*time.Second),
	}
}

// New returns the strategy for kind.
func New(kind models.TaskKind, timing Timing, logger *slog.Logger) (Strategy, error) {
	switch kind {
	case models.KindCompanyInfo:
		return NewInfoStrategy(timing, logger), nil
	case models.KindCompanyJobs:
		return NewJobsStrategy(timing, logger), nil
	default:
		return nil, fmt.Errorf("unsupported task kind %q", kind)
	}
}

var unavailableMarkers = []string{"authwall", "unavailable", "/404"}

// IsUnavailableURL reports whether the page was redirected somewhere that
// has no extractable content.
func IsUnavailableURL(u string) bool {
	lower := strings.ToLower(u)
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// SubPage joins target and a sub-path such as "about". Any query string or
// fragment on target is dropped.
func SubPage(target, sub string) string {
	base := target
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimRight(base, "/") + "/" + sub + "/"
}

func settle(ctx context.Context, d time.Duration) {
	_ = ratelimit.Sleep(ctx, d)
}
