package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/company-scraper/internal/accounts"
	"github.com/maltedev/company-scraper/internal/history"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/task"
)

type TaskManager interface {
	Start(req task.Request) (string, error)
	Cancel() error
	Running() bool
}

type SnapshotSource interface {
	Current() (models.TaskState, bool)
}

// TokenSource supplies account tokens and the stored settings.
type TokenSource interface {
	StoredToken() (token, accountID string, err error)
	AccountToken(accountID string) (string, error)
	Settings() accounts.Settings
}

// Backlog reports progress updates not yet delivered to every reporter.
type Backlog interface {
	Pending() int
}

// backlogWarning is the queue length from which /health reports a warning.
const backlogWarning = 1000

type Handlers struct {
	tasks      TaskManager
	snapshot   SnapshotSource
	tokens     TokenSource
	history    history.TaskRepository
	backlog    Backlog
	outputPath string
	delay      time.Duration
	logger     *slog.Logger
}

type Options struct {
	Tasks      TaskManager
	Snapshot   SnapshotSource
	Tokens     TokenSource
	History    history.TaskRepository
	Backlog    Backlog
	OutputPath string
	Delay      time.Duration
}

func NewHandlers(opts Options, logger *slog.Logger) *Handlers {
	return &Handlers{
		tasks:      opts.Tasks,
		snapshot:   opts.Snapshot,
		tokens:     opts.Tokens,
		history:    opts.History,
		backlog:    opts.Backlog,
		outputPath: opts.OutputPath,
		delay:      opts.Delay,
		logger:     logger.With("component", "api"),
	}
}

// CreateTaskRequest starts a batch. Without a Token, the token of AccountID
// is used, or the selected account's when AccountID is empty too.
// DelaySeconds defaults to the configured page delay.
type CreateTaskRequest struct {
	Type             string   `json:"type"`
	URLs             []string `json:"urls"`
	DelaySeconds     *float64 `json:"delaySeconds,omitempty"`
	Token            string   `json:"token,omitempty"`
	AccountID        string   `json:"accountId,omitempty"`
	IncludeLocations *bool    `json:"includeLocations,omitempty"`
	JobLocation      string   `json:"jobLocation,omitempty"`
}

type CreateTaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := models.ParseTaskKind(req.Type)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls are required")
		return
	}

	if h.tasks.Running() {
		h.respondError(w, http.StatusConflict, task.ErrBusy.Error())
		return
	}

	settings := accounts.Settings{JobLocation: accounts.DefaultJobLocation}
	if h.tokens != nil {
		settings = h.tokens.Settings()
	}

	token, accountID := req.Token, req.AccountID
	if token == "" {
		if h.tokens == nil {
			h.respondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if accountID != "" {
			token, err = h.tokens.AccountToken(accountID)
		} else {
			token, accountID, err = h.tokens.StoredToken()
		}
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	delay := h.delay
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			h.respondError(w, http.StatusBadRequest, "delaySeconds cannot be negative")
			return
		}
		delay = time.Duration(*req.DelaySeconds * float64(time.Second))
	}

	includeLocations := settings.GetLocations
	if req.IncludeLocations != nil {
		includeLocations = *req.IncludeLocations
	}
	jobLocation := settings.JobLocation
	if req.JobLocation != "" {
		jobLocation = req.JobLocation
	}

	id, err := h.tasks.Start(task.Request{
		Token:            token,
		AccountID:        accountID,
		Targets:          req.URLs,
		Kind:             kind,
		Delay:            delay,
		OutputPath:       h.outputPath,
		IncludeLocations: includeLocations,
		JobLocation:      jobLocation,
	})
	switch {
	case errors.Is(err, task.ErrBusy):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to start task", "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateTaskResponse{
		TaskID:  id,
		Status:  string(models.StatusInProgress),
		Message: "Task started",
	})
}

func (h *Handlers) GetCurrentTask(w http.ResponseWriter, r *http.Request) {
	state, ok := h.snapshot.Current()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no task has run yet")
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Cancel(); err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"message": "Cancellation requested"})
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotImplemented, "task history is not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list tasks", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []models.TaskState{}
	}

	h.respondJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotImplemented, "task history is not configured")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	state, err := h.history.Get(r.Context(), taskID)
	if errors.Is(err, history.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get task", "task_id", taskID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"running": h.tasks.Running(),
	}

	if h.backlog != nil {
		pending := h.backlog.Pending()
		health["pending_updates"] = pending
		if pending > backlogWarning {
			health["status"] = "warning"
			health["message"] = "progress updates are piling up"
		}
	}

	h.respondJSON(w, http.StatusOK, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
