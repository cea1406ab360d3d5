package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/company-scraper/internal/models"
)

var ErrNotFound = errors.New("task not found")

// TaskRepository is implemented by Repository; the Recorder and the API
// depend on this interface.
type TaskRepository interface {
	Save(ctx context.Context, task models.TaskState) error
	Get(ctx context.Context, id string) (models.TaskState, error)
	List(ctx context.Context, limit int) ([]models.TaskState, error)
}

type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Save inserts the task or overwrites the stored row with the same ID.
func (r *Repository) Save(ctx context.Context, task models.TaskState) error {
	query := `
		INSERT INTO scrape_tasks (
			id, kind, status, current, total, success_count,
			fail_count, jobs, fail_reason, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			current       = EXCLUDED.current,
			total         = EXCLUDED.total,
			success_count = EXCLUDED.success_count,
			fail_count    = EXCLUDED.fail_count,
			jobs          = EXCLUDED.jobs,
			fail_reason   = EXCLUDED.fail_reason,
			ended_at      = EXCLUDED.ended_at`

	var reason *string
	if task.FailReason != "" {
		reason = &task.FailReason
	}

	_, err := r.db.pool.Exec(ctx, query,
		task.ID, string(task.Kind), string(task.Status), task.Current, task.Total,
		task.SuccessCount, task.FailCount, task.Jobs, reason, task.StartTime, task.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, kind, status, current, total, success_count,
	       fail_count, jobs, fail_reason, started_at, ended_at
	FROM scrape_tasks`

func (r *Repository) Get(ctx context.Context, id string) (models.TaskState, error) {
	row := r.db.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TaskState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.TaskState{}, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// List returns the most recent tasks first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.TaskState, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.pool.Query(ctx, selectColumns+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskState
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (models.TaskState, error) {
	var (
		task         models.TaskState
		kind, status string
		reason       *string
		endedAt      *time.Time
	)

	err := row.Scan(
		&task.ID, &kind, &status, &task.Current, &task.Total, &task.SuccessCount,
		&task.FailCount, &task.Jobs, &reason, &task.StartTime, &endedAt,
	)
	if err != nil {
		return models.TaskState{}, err
	}

	task.Kind = models.TaskKind(kind)
	task.Status = models.TaskStatus(status)
	task.EndTime = endedAt
	if reason != nil {
		task.FailReason = *reason
	}
	return task, nil
}
