package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/company-scraper/internal/accounts"
	"github.com/maltedev/company-scraper/internal/history"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/progress"
	"github.com/maltedev/company-scraper/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTaskManager struct {
	mock.Mock
}

func (m *MockTaskManager) Start(req task.Request) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

func (m *MockTaskManager) Cancel() error {
	return m.Called().Error(0)
}

func (m *MockTaskManager) Running() bool {
	return m.Called().Bool(0)
}

type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Save(ctx context.Context, t models.TaskState) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockTaskRepository) Get(ctx context.Context, id string) (models.TaskState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.TaskState), args.Error(1)
}

func (m *MockTaskRepository) List(ctx context.Context, limit int) ([]models.TaskState, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.TaskState), args.Error(1)
}

type stubTokens struct {
	token     string
	accountID string
	err       error
	settings  accounts.Settings
	byAccount map[string]string
}

func (s stubTokens) StoredToken() (string, string, error) { return s.token, s.accountID, s.err }
func (s stubTokens) Settings() accounts.Settings          { return s.settings }

func (s stubTokens) AccountToken(id string) (string, error) {
	tok, ok := s.byAccount[id]
	if !ok {
		return "", accounts.ErrNotFound
	}
	return tok, nil
}

type stubBacklog int

func (b stubBacklog) Pending() int { return int(b) }

type fixture struct {
	tasks    *MockTaskManager
	repo     *MockTaskRepository
	snapshot *progress.Snapshot
	tokens   stubTokens
	router   http.Handler
}

func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	f := &fixture{
		tasks:    new(MockTaskManager),
		repo:     new(MockTaskRepository),
		snapshot: progress.NewSnapshot(),
		tokens: stubTokens{
			token:     "stored",
			accountID: "acc-1",
			settings:  accounts.Settings{GetLocations: true, JobLocation: "Germany"},
			byAccount: map[string]string{"acc-2": "spare"},
		},
	}
	f.build(withHistory)
	return f
}

func (f *fixture) build(withHistory bool) {
	opts := Options{
		Tasks:      f.tasks,
		Snapshot:   f.snapshot,
		Tokens:     f.tokens,
		OutputPath: "results/results.csv",
		Delay:      3 * time.Second,
	}
	if withHistory {
		opts.History = f.repo
	}
	f.router = NewRouter(NewHandlers(opts, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestCreateTask(t *testing.T) {
	t.Run("uses stored account and settings", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(false)
		f.tasks.On("Start", mock.MatchedBy(func(req task.Request) bool {
			return req.Token == "stored" &&
				req.AccountID == "acc-1" &&
				req.Kind == models.KindCompanyJobs &&
				req.Delay == 3*time.Second &&
				req.IncludeLocations &&
				req.JobLocation == "Germany" &&
				req.OutputPath == "results/results.csv" &&
				len(req.Targets) == 2
		})).Return("task-1", nil)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"jobs","urls":["https://a.test","https://b.test"]}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp CreateTaskResponse
		decode(t, rec, &resp)
		assert.Equal(t, "task-1", resp.TaskID)
		assert.Equal(t, "in-progress", resp.Status)
		f.tasks.AssertExpectations(t)
	})

	t.Run("request overrides defaults", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(false)
		f.tasks.On("Start", mock.MatchedBy(func(req task.Request) bool {
			return req.Token == "explicit" &&
				req.Delay == 1500*time.Millisecond &&
				!req.IncludeLocations &&
				req.Kind == models.KindCompanyInfo
		})).Return("task-2", nil)

		rec := f.do(http.MethodPost, "/api/v1/tasks",
			`{"type":"company-info","urls":["https://a.test"],"token":"explicit","delaySeconds":1.5,"includeLocations":false}`)
		assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		f.tasks.AssertExpectations(t)
	})

	t.Run("conflict while running", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(true)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"info","urls":["https://a.test"]}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		f.tasks.AssertNotCalled(t, "Start", mock.Anything)
	})

	t.Run("conflict from start race", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(false)
		f.tasks.On("Start", mock.Anything).Return("", task.ErrBusy)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"info","urls":["https://a.test"]}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"Invalid JSON", `{`},
			{"Unknown type", `{"type":"people","urls":["https://a.test"]}`},
			{"No urls", `{"type":"info","urls":[]}`},
			{"Negative delay", `{"type":"info","urls":["https://a.test"],"delaySeconds":-1}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t, false)
				f.tasks.On("Running").Return(false)

				rec := f.do(http.MethodPost, "/api/v1/tasks", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("no stored token", func(t *testing.T) {
		f := newFixture(t, false)
		f.tokens.err = accounts.ErrNoSelected
		f.build(false)
		f.tasks.On("Running").Return(false)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"info","urls":["https://a.test"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, accounts.ErrNoSelected.Error(), body["error"])
	})
}

func TestGetCurrentTask(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/api/v1/tasks/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.snapshot.Publish(models.Update{Kind: models.UpdateProgress, Task: models.TaskState{
		ID: "t1", Kind: models.KindCompanyInfo, Current: 2, Total: 5, SuccessCount: 1, FailCount: 1,
		Status: models.StatusInProgress,
	}})

	rec = f.do(http.MethodGet, "/api/v1/tasks/current", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state models.TaskState
	decode(t, rec, &state)
	assert.Equal(t, "t1", state.ID)
	assert.Equal(t, 2, state.Current)
	assert.Equal(t, models.KindCompanyInfo, state.Kind)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t, false)
	f.tasks.On("Cancel").Return(nil).Once()
	f.tasks.On("Cancel").Return(task.ErrNotRunning).Once()

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/tasks/current/cancel", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/tasks/current/cancel", "").Code)
}

func TestHistoryEndpoints(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, false)
		assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodGet, "/api/v1/tasks", "").Code)
		assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodGet, "/api/v1/tasks/t1", "").Code)
	})

	t.Run("list", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("List", mock.Anything, 5).Return([]models.TaskState{{ID: "t2"}, {ID: "t1"}}, nil)

		rec := f.do(http.MethodGet, "/api/v1/tasks?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var tasks []models.TaskState
		decode(t, rec, &tasks)
		require.Len(t, tasks, 2)
		assert.Equal(t, "t2", tasks[0].ID)

		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/tasks?limit=abc", "").Code)
	})

	t.Run("list error", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("List", mock.Anything, 50).Return([]models.TaskState(nil), errors.New("db down"))

		assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/v1/tasks", "").Code)
	})

	t.Run("get", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("Get", mock.Anything, "t1").Return(models.TaskState{ID: "t1", Status: models.StatusCompleted}, nil)
		f.repo.On("Get", mock.Anything, "missing").Return(models.TaskState{}, history.ErrNotFound)

		rec := f.do(http.MethodGet, "/api/v1/tasks/t1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/tasks/missing", "").Code)
	})
}

func TestCreateTaskUsesRequestedAccount(t *testing.T) {
	t.Run("Token of the given account", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(false)
		f.tasks.On("Start", mock.MatchedBy(func(req task.Request) bool {
			return req.Token == "spare" && req.AccountID == "acc-2"
		})).Return("task-2", nil)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"info","urls":["https://a.test"],"accountId":"acc-2"}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		f.tasks.AssertExpectations(t)
	})

	t.Run("Unknown account", func(t *testing.T) {
		f := newFixture(t, false)
		f.tasks.On("Running").Return(false)

		rec := f.do(http.MethodPost, "/api/v1/tasks", `{"type":"info","urls":["https://a.test"],"accountId":"nope"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.tasks.AssertNotCalled(t, "Start", mock.Anything)
	})
}

func TestHealthReportsBacklog(t *testing.T) {
	f := newFixture(t, false)
	f.tasks.On("Running").Return(true)
	f.router = NewRouter(NewHandlers(Options{
		Tasks:    f.tasks,
		Snapshot: f.snapshot,
		Backlog:  stubBacklog(backlogWarning + 1),
	}, slog.New(slog.NewTextHandler(io.Discard, nil))))

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "warning", body["status"])
	assert.Equal(t, float64(backlogWarning+1), body["pending_updates"])
	assert.Equal(t, true, body["running"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	f.tasks.On("Running").Return(false)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}
