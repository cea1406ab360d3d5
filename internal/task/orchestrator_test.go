package task

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/browser/browsertest"
	"github.com/maltedev/company-scraper/internal/extract"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubStrategy answers with outcome(target); a nil outcome means success.
type stubStrategy struct {
	kind    models.TaskKind
	columns []string
	outcome func(page browser.Page, target string, opts extract.Options) extract.Result
}

func (s *stubStrategy) Kind() models.TaskKind { return s.kind }
func (s *stubStrategy) Columns() []string     { return s.columns }

func (s *stubStrategy) Extract(_ context.Context, page browser.Page, target string, opts extract.Options) extract.Result {
	if s.outcome != nil {
		return s.outcome(page, target, opts)
	}
	return success(target)
}

func success(target string) extract.Result {
	return extract.Result{
		Target:  target,
		Status:  extract.StatusSuccess,
		Rows:    [][]string{{target, "success"}},
		Records: 1,
	}
}

func failure(target string) extract.Result {
	return extract.Result{
		Target: target,
		Status: extract.StatusFailed,
		Reason: "missing elements",
		Rows:   [][]string{{target, "failed"}},
	}
}

type updates struct {
	mu   sync.Mutex
	list []models.Update
}

func (u *updates) Publish(update models.Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, update)
}

func (u *updates) all() []models.Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.Update{}, u.list...)
}

func (u *updates) kinds() []models.UpdateKind {
	var out []models.UpdateKind
	for _, up := range u.all() {
		out = append(out, up.Kind)
	}
	return out
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) ClearToken(accountID string) error {
	args := m.Called(accountID)
	return args.Error(0)
}

type notification struct {
	title string
	body  string
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *stubNotifier) Notify(_ context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{title, body})
	return nil
}

type harness struct {
	page     *browsertest.Page
	engine   *browsertest.Engine
	updates  *updates
	tokens   *MockTokenStore
	notifier *stubNotifier
	output   string
	launchFn func() (browser.Engine, error)
}

func newHarness(t *testing.T) *harness {
	page := browsertest.NewPage()
	h := &harness{
		page:     page,
		engine:   &browsertest.Engine{Page: page},
		updates:  &updates{},
		tokens:   new(MockTokenStore),
		notifier: &stubNotifier{},
		output:   filepath.Join(t.TempDir(), "results", "results.csv"),
	}
	h.launchFn = func() (browser.Engine, error) { return h.engine, nil }
	return h
}

func (h *harness) orchestrator(strategy extract.Strategy) *Orchestrator {
	gateway := browser.NewGateway(func() (browser.Engine, error) { return h.launchFn() }, browser.GatewayConfig{
		BaseURL:      "https://www.linkedin.com",
		CookieName:   "li_at",
		LockoutCodes: []int{999, 429},
	}, testLogger())

	return New(Deps{
		Gateway: gateway,
		Strategies: func(models.TaskKind) (extract.Strategy, error) {
			return strategy, nil
		},
		OpenSink: sink.OpenWriter,
		Reporter: h.updates,
		Tokens:   h.tokens,
		Notifier: h.notifier,
		Logger:   testLogger(),
	})
}

func (h *harness) request(n int, kind models.TaskKind) Request {
	targets := make([]string, n)
	for i := range targets {
		targets[i] = fmt.Sprintf("https://www.linkedin.com/company/c%d", i+1)
	}
	return Request{
		Token:      "token",
		AccountID:  "acc-1",
		Targets:    targets,
		Kind:       kind,
		OutputPath: h.output,
	}
}

func (h *harness) rows(t *testing.T) [][]string {
	f, err := os.Open(h.output)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func assertConservation(t *testing.T, list []models.Update) {
	t.Helper()
	for _, u := range list {
		assert.Equal(t, u.Task.Current, u.Task.SuccessCount+u.Task.FailCount, "update %s", u.Kind)
		assert.LessOrEqual(t, u.Task.Current, u.Task.Total)
	}
}

func infoStrategy(outcome func(browser.Page, string, extract.Options) extract.Result) *stubStrategy {
	return &stubStrategy{kind: models.KindCompanyInfo, columns: []string{"URL", "Status"}, outcome: outcome}
}

func TestRunAllSucceed(t *testing.T) {
	h := newHarness(t)

	state, err := h.orchestrator(infoStrategy(nil)).Run(context.Background(), h.request(3, models.KindCompanyInfo))
	require.NoError(t, err)

	assert.Equal(t, 3, state.Current)
	assert.Equal(t, 3, state.SuccessCount)
	assert.Equal(t, 0, state.FailCount)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.NotEmpty(t, state.ID)
	require.NotNil(t, state.EndTime)

	rows := h.rows(t)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"URL", "Status"}, rows[0])
	assert.Equal(t, "https://www.linkedin.com/company/c3", rows[3][0])

	assert.Equal(t, []models.UpdateKind{
		models.UpdateStarted, models.UpdateProgress, models.UpdateProgress, models.UpdateProgress, models.UpdateFinished,
	}, h.updates.kinds())
	assertConservation(t, h.updates.all())

	assert.Equal(t, []notification{{"Scraping was completed successfully", "3 of 3 targets scraped"}}, h.notifier.sent)
	assert.Equal(t, 1, h.engine.CloseCount())
	assert.True(t, h.page.Closed())
	assert.Equal(t, "token", h.page.Cookies()[0].Value)
	h.tokens.AssertNotCalled(t, "ClearToken", mock.Anything)
}

func TestRunPartial(t *testing.T) {
	h := newHarness(t)
	strategy := infoStrategy(func(_ browser.Page, target string, _ extract.Options) extract.Result {
		if target == "https://www.linkedin.com/company/c2" {
			return failure(target)
		}
		return success(target)
	})

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(4, models.KindCompanyInfo))
	require.NoError(t, err)

	assert.Equal(t, 4, state.Current)
	assert.Equal(t, 3, state.SuccessCount)
	assert.Equal(t, 1, state.FailCount)
	assert.Equal(t, models.StatusPartial, state.Status)
	assert.Len(t, h.rows(t), 5)
	assert.Equal(t, "Scraping was partially completed", h.notifier.sent[0].title)
}

func TestRunAllFail(t *testing.T) {
	h := newHarness(t)
	strategy := infoStrategy(func(_ browser.Page, target string, _ extract.Options) extract.Result {
		return extract.Result{Target: target, Status: extract.StatusUnavailable, Reason: "page unavailable",
			Rows: [][]string{{target, "unavailable"}}}
	})

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(2, models.KindCompanyInfo))
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, 2, state.FailCount)
	assert.Equal(t, "unavailable", h.rows(t)[1][1])
}

func TestRunLockoutStopsBatch(t *testing.T) {
	h := newHarness(t)
	h.tokens.On("ClearToken", "acc-1").Return(nil).Once()

	strategy := infoStrategy(func(page browser.Page, target string, _ extract.Options) extract.Result {
		if target == "https://www.linkedin.com/company/c2" {
			fake := page.(*browsertest.Page)
			fake.Respond(999, target)
			fake.Respond(429, target)
			fake.Respond(999, target)
		}
		return success(target)
	})

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(5, models.KindCompanyInfo))
	require.ErrorIs(t, err, ErrLockout)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, ReasonLockout, state.FailReason)
	assert.Equal(t, 2, state.Current)
	assert.Equal(t, 2, state.SuccessCount)
	assert.Equal(t, 5, state.Total)

	rows := h.rows(t)
	require.Len(t, rows, 3)
	assert.Equal(t, "https://www.linkedin.com/company/c2", rows[2][0])

	h.tokens.AssertExpectations(t)
	h.tokens.AssertNumberOfCalls(t, "ClearToken", 1)
	assert.Equal(t, []notification{{"Scraping failed", ReasonLockout}}, h.notifier.sent)
	assert.Equal(t, 1, h.engine.CloseCount())
}

func TestLockoutHandlerIsIdempotent(t *testing.T) {
	tokens := new(MockTokenStore)
	tokens.On("ClearToken", "").Return(errors.New("disk full")).Once()

	b := &batch{
		o:      &Orchestrator{tokens: tokens},
		abort:  NewAbortSignal(),
		logger: testLogger(),
	}

	for i := 0; i < 5; i++ {
		b.onLockout(999, "https://www.linkedin.com/feed")
	}

	assert.True(t, b.abort.Raised())
	assert.ErrorIs(t, b.abort.Err(), ErrLockout)
	tokens.AssertNumberOfCalls(t, "ClearToken", 1)
}

func TestRunSessionError(t *testing.T) {
	h := newHarness(t)
	h.launchFn = func() (browser.Engine, error) { return nil, errors.New("chromium not installed") }

	state, err := h.orchestrator(infoStrategy(nil)).Run(context.Background(), h.request(4, models.KindCompanyInfo))
	require.ErrorIs(t, err, browser.ErrSession)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, 0, state.Current)
	assert.Equal(t, 4, state.Total)
	assert.Contains(t, state.FailReason, "chromium not installed")

	_, statErr := os.Stat(h.output)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []models.UpdateKind{models.UpdateStarted, models.UpdateFinished}, h.updates.kinds())
	assert.Len(t, h.notifier.sent, 1)
}

func TestRunJobsRecordsProgress(t *testing.T) {
	h := newHarness(t)
	strategy := &stubStrategy{
		kind:    models.KindCompanyJobs,
		columns: models.JobRecordColumns,
		outcome: func(_ browser.Page, target string, opts extract.Options) extract.Result {
			var rows [][]string
			for page := 1; page <= 2; page++ {
				for item := 1; item <= 3; item++ {
					job := models.JobRecord{Title: fmt.Sprintf("job %d-%d", page, item)}
					rows = append(rows, job.Row(target, "success"))
					opts.OnRecord()
				}
			}
			return extract.Result{Target: target, Status: extract.StatusSuccess, Rows: rows, Records: len(rows)}
		},
	}

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(1, models.KindCompanyJobs))
	require.NoError(t, err)

	require.NotNil(t, state.Jobs)
	assert.Equal(t, 6, *state.Jobs)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.Len(t, h.rows(t), 7)

	kinds := h.updates.kinds()
	assert.Equal(t, []models.UpdateKind{
		models.UpdateStarted,
		models.UpdateRecords, models.UpdateRecords, models.UpdateRecords,
		models.UpdateRecords, models.UpdateRecords, models.UpdateRecords,
		models.UpdateProgress,
		models.UpdateFinished,
	}, kinds)

	list := h.updates.all()
	for i := 1; i <= 6; i++ {
		assert.Equal(t, i, *list[i].Task.Jobs)
	}
	assertConservation(t, list)
}

func TestRecordsUpdatesCountOnlyFinishedTargets(t *testing.T) {
	h := newHarness(t)
	strategy := &stubStrategy{
		kind:    models.KindCompanyJobs,
		columns: models.JobRecordColumns,
		outcome: func(_ browser.Page, target string, opts extract.Options) extract.Result {
			opts.OnRecord()
			job := models.JobRecord{Title: "engineer"}
			return extract.Result{
				Target:  target,
				Status:  extract.StatusSuccess,
				Rows:    [][]string{job.Row(target, "success")},
				Records: 1,
			}
		},
	}

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(2, models.KindCompanyJobs))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Current)

	var records []models.TaskState
	for _, u := range h.updates.all() {
		if u.Kind == models.UpdateRecords {
			records = append(records, u.Task)
		}
	}
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].Current)
	assert.Equal(t, 1, records[1].Current)
	assert.Equal(t, 1, records[1].SuccessCount)
	assertConservation(t, h.updates.all())
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := infoStrategy(func(_ browser.Page, target string, _ extract.Options) extract.Result {
		if target == "https://www.linkedin.com/company/c1" {
			cancel()
		}
		return success(target)
	})

	state, err := h.orchestrator(strategy).Run(ctx, h.request(3, models.KindCompanyInfo))
	require.ErrorIs(t, err, ErrCancelled)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, ReasonCancelled, state.FailReason)
	assert.Equal(t, 1, state.Current)
	assert.Len(t, h.rows(t), 2)
	assert.Equal(t, 1, h.engine.CloseCount())
	h.tokens.AssertNotCalled(t, "ClearToken", mock.Anything)
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t)
	strategy := infoStrategy(func(_ browser.Page, target string, _ extract.Options) extract.Result {
		if target == "https://www.linkedin.com/company/c2" {
			panic("nil map")
		}
		return success(target)
	})

	state, err := h.orchestrator(strategy).Run(context.Background(), h.request(3, models.KindCompanyInfo))
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Contains(t, state.FailReason, "nil map")
	assert.Equal(t, 2, state.Current)
	assert.Equal(t, 1, state.SuccessCount)
	assert.Equal(t, 1, state.FailCount)
	assert.Equal(t, 1, h.engine.CloseCount())
}

type failingSink struct{}

func (failingSink) WriteHeader([]string) error { return nil }
func (failingSink) WriteRow(...any) error      { return errors.New("no space left on device") }
func (failingSink) Close() error               { return nil }

func TestRunSinkErrorFailsBatch(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(infoStrategy(nil))
	o.openSink = func(string) (sink.Writer, error) { return failingSink{}, nil }

	state, err := o.Run(context.Background(), h.request(3, models.KindCompanyInfo))
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, "no space left on device", state.FailReason)
	assert.Equal(t, 1, state.Current)
	assertConservation(t, h.updates.all())
}

func TestRequestValidate(t *testing.T) {
	valid := Request{Targets: []string{"x"}, Kind: models.KindCompanyInfo, OutputPath: "out.csv"}
	assert.NoError(t, valid.Validate())

	noTargets := valid
	noTargets.Targets = nil
	assert.ErrorIs(t, noTargets.Validate(), ErrNoTargets)

	badKind := valid
	badKind.Kind = "people"
	assert.Error(t, badKind.Validate())

	noOutput := valid
	noOutput.OutputPath = ""
	assert.Error(t, noOutput.Validate())
}

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		success, total int
		expected       models.TaskStatus
	}{
		{3, 3, models.StatusCompleted},
		{1, 3, models.StatusPartial},
		{2, 3, models.StatusPartial},
		{0, 3, models.StatusFailed},
		{0, 1, models.StatusFailed},
		{1, 1, models.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d of %d", tt.success, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeStatus(tt.success, tt.total))
		})
	}
}

func TestAbortSignalFirstRaiserWins(t *testing.T) {
	a := NewAbortSignal()
	assert.False(t, a.Raised())

	assert.True(t, a.Raise(ErrCancelled, ReasonCancelled))
	assert.False(t, a.Raise(ErrLockout, ReasonLockout))

	assert.True(t, a.Raised())
	assert.ErrorIs(t, a.Err(), ErrCancelled)
	assert.Equal(t, ReasonCancelled, a.Reason())
}
