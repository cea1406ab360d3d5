// Package task runs one scrape batch: it owns the session, walks the
// targets in order, records rows and reports progress until a terminal
// status is reached.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/extract"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/notify"
	"github.com/maltedev/company-scraper/internal/progress"
	"github.com/maltedev/company-scraper/internal/sink"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("company-scraper/task")

// Gateway opens sessions and reports lockouts on them.
type Gateway interface {
	Establish(ctx context.Context, token string) (*browser.Session, error)
	WatchForExpiry(page browser.Page, onExpired func(status int, url string))
}

// TokenStore forgets a token once the site has rejected it. An empty
// account ID means the currently selected account.
type TokenStore interface {
	ClearToken(accountID string) error
}

// StrategyFactory returns the extractor for a task kind.
type StrategyFactory func(kind models.TaskKind) (extract.Strategy, error)

type Request struct {
	ID         string
	Token      string
	AccountID  string
	Targets    []string
	Kind       models.TaskKind
	Delay      time.Duration
	OutputPath string

	IncludeLocations bool
	JobLocation      string
}

func (r Request) Validate() error {
	if len(r.Targets) == 0 {
		return ErrNoTargets
	}
	if r.OutputPath == "" {
		return errors.New("output path is required")
	}
	if r.Delay < 0 {
		return errors.New("delay cannot be negative")
	}
	if _, err := models.ParseTaskKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

type Deps struct {
	Gateway    Gateway
	Strategies StrategyFactory
	OpenSink   sink.Opener
	Reporter   progress.Reporter
	Tokens     TokenStore
	Notifier   notify.Notifier
	Logger     *slog.Logger
}

type Orchestrator struct {
	gateway    Gateway
	strategies StrategyFactory
	openSink   sink.Opener
	reporter   progress.Reporter
	tokens     TokenStore
	notifier   notify.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		gateway:    deps.Gateway,
		strategies: deps.Strategies,
		openSink:   deps.OpenSink,
		reporter:   deps.Reporter,
		tokens:     deps.Tokens,
		notifier:   deps.Notifier,
		logger:     deps.Logger.With("component", "orchestrator"),
		now:        time.Now,
	}
	if o.openSink == nil {
		o.openSink = sink.OpenWriter
	}
	if o.reporter == nil {
		o.reporter = progress.Nop{}
	}
	return o
}

// NewID returns a fresh task identifier.
func NewID() string {
	return uuid.New().String()
}

// Run processes the batch and returns its terminal state. The error is
// non-nil whenever the batch ended early: session or sink failures,
// lockout, cancellation or an unexpected panic. Per-target failures are
// only reflected in the counters.
func (o *Orchestrator) Run(ctx context.Context, req Request) (models.TaskState, error) {
	if err := req.Validate(); err != nil {
		return models.TaskState{}, err
	}
	if req.ID == "" {
		req.ID = NewID()
	}

	ctx, span := tracer.Start(ctx, "task.Run", trace.WithAttributes(
		attribute.String("task.id", req.ID),
		attribute.String("task.kind", string(req.Kind)),
		attribute.Int("task.total", len(req.Targets)),
	))
	defer span.End()

	b := &batch{
		o:      o,
		req:    req,
		abort:  NewAbortSignal(),
		logger: o.logger.With("task_id", req.ID, "kind", req.Kind),
		state: models.TaskState{
			ID:        req.ID,
			Kind:      req.Kind,
			Total:     len(req.Targets),
			Status:    models.StatusInProgress,
			StartTime: o.now(),
		},
	}
	if req.Kind == models.KindCompanyJobs {
		jobs := 0
		b.state.Jobs = &jobs
	}

	stop := context.AfterFunc(ctx, func() {
		if b.abort.Raise(ErrCancelled, ReasonCancelled) {
			b.logger.Warn("task cancelled")
		}
	})
	defer stop()

	err := b.run(ctx)
	state := b.finish(ctx, err)

	span.SetAttributes(
		attribute.String("task.status", string(state.Status)),
		attribute.Int("task.success", state.SuccessCount),
		attribute.Int("task.failed", state.FailCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, state.FailReason)
	}

	return state, err
}

// batch is the mutable state of one Run. Only the goroutine executing run
// touches state.
type batch struct {
	o      *Orchestrator
	req    Request
	state  models.TaskState
	abort  *AbortSignal
	logger *slog.Logger

	// inFlight is set while a target has started but is not counted yet.
	inFlight  bool
	clearOnce sync.Once
}

func (b *batch) publish(kind models.UpdateKind) {
	b.o.reporter.Publish(models.Update{Kind: kind, Task: b.state.Clone()})
}

func (b *batch) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while scraping", "panic", r)
			if b.inFlight {
				b.complete(false)
			}
			b.state.FailCount = b.state.Current - b.state.SuccessCount
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	b.logger.Info("task started", "total", b.state.Total)
	b.publish(models.UpdateStarted)

	strategy, err := b.o.strategies(b.req.Kind)
	if err != nil {
		return err
	}

	session, err := b.o.gateway.Establish(ctx, b.req.Token)
	if err != nil {
		b.logger.Error("failed to establish session", "error", err)
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			b.logger.Warn("failed to close session", "error", closeErr)
		}
	}()

	b.o.gateway.WatchForExpiry(session.Page, b.onLockout)

	out, err := b.o.openSink(b.req.OutputPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close results file: %w", closeErr)
		}
	}()

	if err := out.WriteHeader(strategy.Columns()); err != nil {
		return err
	}

	opts := extract.Options{
		PageDelay:        b.req.Delay,
		IncludeLocations: b.req.IncludeLocations,
		JobLocation:      b.req.JobLocation,
		OnRecord:         b.onRecord,
	}

	for _, target := range b.req.Targets {
		if b.aborted(ctx) {
			break
		}

		index := b.state.Current + 1
		b.inFlight = true
		b.logger.Info("scraping target", "current", index, "total", b.state.Total, "url", target)

		tctx, tspan := tracer.Start(ctx, "task.Target", trace.WithAttributes(
			attribute.String("target.url", target),
			attribute.Int("target.index", index),
		))
		res := strategy.Extract(tctx, session.Page, target, opts)
		tspan.SetAttributes(
			attribute.String("target.status", string(res.Status)),
			attribute.Int("target.records", res.Records),
		)
		if !res.Status.Succeeded() {
			tspan.SetStatus(codes.Error, res.Reason)
		}
		tspan.End()

		for _, row := range res.Rows {
			if err := out.WriteRow(toValues(row)...); err != nil {
				b.complete(false)
				b.publish(models.UpdateProgress)
				return err
			}
		}

		b.complete(res.Status.Succeeded())
		if res.Status.Succeeded() {
			b.logger.Info("scraped target", "current", b.state.Current, "url", target, "records", res.Records)
		} else {
			b.logger.Warn("failed to scrape target", "current", b.state.Current, "url", target,
				"status", res.Status, "reason", res.Reason)
		}

		b.publish(models.UpdateProgress)
	}

	if b.aborted(ctx) {
		return b.abort.Err()
	}
	return nil
}

// complete counts the in-flight target. Current only moves together with
// one of the outcome counters.
func (b *batch) complete(ok bool) {
	b.state.Current++
	if ok {
		b.state.SuccessCount++
	} else {
		b.state.FailCount++
	}
	b.inFlight = false
}

// aborted also covers a cancelled ctx whose AfterFunc has not run yet.
func (b *batch) aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		b.abort.Raise(ErrCancelled, ReasonCancelled)
	}
	return b.abort.Raised()
}

func (b *batch) onRecord() {
	if b.state.Jobs == nil {
		jobs := 0
		b.state.Jobs = &jobs
	}
	*b.state.Jobs++
	b.publish(models.UpdateRecords)
}

// onLockout may be called from the page's event goroutine.
func (b *batch) onLockout(status int, url string) {
	b.abort.Raise(ErrLockout, ReasonLockout)

	b.clearOnce.Do(func() {
		b.logger.Error("session expired", "status", status, "url", url)
		if b.o.tokens == nil {
			return
		}
		if err := b.o.tokens.ClearToken(b.req.AccountID); err != nil {
			b.logger.Error("failed to clear stored token", "account_id", b.req.AccountID, "error", err)
		}
	})
}

func (b *batch) finish(ctx context.Context, err error) models.TaskState {
	switch {
	case b.abort.Raised():
		b.state.Status = models.StatusFailed
		b.state.FailReason = b.abort.Reason()
	case err != nil:
		b.state.Status = models.StatusFailed
		b.state.FailReason = err.Error()
	default:
		b.state.Status = ComputeStatus(b.state.SuccessCount, b.state.Total)
	}

	end := b.o.now()
	b.state.EndTime = &end

	b.logger.Info("task finished",
		"status", b.state.Status,
		"current", b.state.Current,
		"success", b.state.SuccessCount,
		"failed", b.state.FailCount,
		"reason", b.state.FailReason,
		"duration", end.Sub(b.state.StartTime))

	b.publish(models.UpdateFinished)
	b.notify(ctx)

	return b.state.Clone()
}

func (b *batch) notify(ctx context.Context) {
	if b.o.notifier == nil {
		return
	}

	body := b.state.FailReason
	if body == "" {
		body = fmt.Sprintf("%d of %d targets scraped", b.state.SuccessCount, b.state.Total)
	}

	// The batch context may already be cancelled; the notification must
	// still go out.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := b.o.notifier.Notify(nctx, notify.Title(b.state.Status), body); err != nil {
		b.logger.Error("failed to send notification", "error", err)
	}
}

func toValues(row []string) []any {
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	return values
}
