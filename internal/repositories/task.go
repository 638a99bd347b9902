package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

const taskColumns = `
	id, batch_id, sequence, command, source_id, source_type, target_id, target_name,
	status, error_category, error_message, retry_count, max_retries, quota_consumed, project,
	created_at, updated_at, started_at, completed_at
`

// TaskRepository persists tasks and keeps their batch's counters in step.
//
// Every write recounts the owning batch inside the same transaction, so the batch
// counters always equal the number of tasks in each terminal status.
type TaskRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTaskRepository creates a new TaskRepository with the given database connection
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

// SetClock replaces the time source used for task and batch timestamps.
func (r *TaskRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Create appends a task to its batch with the next sequence number and increments the batch total.
func (r *TaskRepository) Create(task *models.Task) error {
	if task.ID == "" {
		task.ID = shared.GenerateID()
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = models.DefaultMaxRetries
	}

	now := r.now()
	task.CreatedAt, task.UpdatedAt = now, now

	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM tasks WHERE batch_id = ?`, task.BatchID).Scan(&task.Sequence); err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		task.ID, task.BatchID, task.Sequence, task.Command, task.SourceID, task.SourceType,
		task.TargetID, task.TargetName, string(task.Status), task.ErrorCategory, task.ErrorMessage,
		task.RetryCount, task.MaxRetries, task.QuotaConsumed, task.ProjectName,
		now.UTC(), now.UTC(), nullTime(task.StartedAt), nullTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	if _, err := recount(tx, task.BatchID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}

	return nil
}

// Get retrieves a task by ID.
func (r *TaskRepository) Get(id string) (*models.Task, error) {
	return getTask(r.db, id)
}

// List returns a batch's tasks in sequence order, optionally filtered by status.
func (r *TaskRepository) List(batchID string, statuses ...models.TaskStatus) ([]*models.Task, error) {
	return listTasks(r.db, batchID, statuses...)
}

// Apply loads a task, lets fn mutate it, and writes the task and its batch's counters in one transaction.
//
// An error from fn aborts the transaction and is returned unchanged.
func (r *TaskRepository) Apply(id string, fn func(task *models.Task) error) (*models.Task, *models.Batch, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := getTask(tx, id)
	if err != nil {
		return nil, nil, err
	}

	if err := fn(task); err != nil {
		return nil, nil, err
	}

	now := r.now()
	if err := writeTask(tx, task, now); err != nil {
		return nil, nil, err
	}

	batch, err := recount(tx, task.BatchID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	return task, batch, nil
}

// ApplyAll runs taskFn over every task of a batch in sequence order and batchFn over the batch,
// writing every change in one transaction. taskFn reports whether it changed the task.
func (r *TaskRepository) ApplyAll(batchID string, taskFn func(task *models.Task) (bool, error), batchFn func(batch *models.Batch)) (*models.Batch, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	batch, err := getBatch(tx, batchID)
	if err != nil {
		return nil, err
	}

	tasks, err := listTasks(tx, batchID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for _, task := range tasks {
		changed, err := taskFn(task)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		if err := writeTask(tx, task, now); err != nil {
			return nil, err
		}
	}

	if batchFn != nil {
		batchFn(batch)
		_, err := tx.Exec(`UPDATE batches SET is_paused = ?, pause_reason = ?, last_resumed_at = ? WHERE id = ?`,
			boolToInt(batch.IsPaused), batch.PauseReason, nullTime(batch.LastResumedAt), batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update batch: %w", err)
		}
	}

	batch, err = recount(tx, batchID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch update: %w", err)
	}

	return batch, nil
}

func writeTask(tx *sql.Tx, task *models.Task, now time.Time) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	task.UpdatedAt = now

	query := `
		UPDATE tasks
		SET target_id = ?, target_name = ?, status = ?, error_category = ?, error_message = ?,
			retry_count = ?, max_retries = ?, quota_consumed = ?, project = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := tx.Exec(query,
		task.TargetID, task.TargetName, string(task.Status), task.ErrorCategory, task.ErrorMessage,
		task.RetryCount, task.MaxRetries, task.QuotaConsumed, task.ProjectName,
		now.UTC(), nullTime(task.StartedAt), nullTime(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, task.ID)
	}

	return nil
}

// recount derives a batch's counters from its tasks and returns the updated batch.
func recount(tx *sql.Tx, batchID string, now time.Time) (*models.Batch, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(quota_consumed), 0)
		FROM tasks
		WHERE batch_id = ?
		GROUP BY status
	`

	rows, err := tx.Query(query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	var total, completed, failed, skipped, quota int
	started := false
	for rows.Next() {
		var (
			status string
			count  int
			units  int
		)
		if err := rows.Scan(&status, &count, &units); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task counts: %w", err)
		}

		total += count
		quota += units
		switch models.TaskStatus(status) {
		case models.TaskCompleted:
			completed += count
		case models.TaskFailed:
			failed += count
		case models.TaskSkipped:
			skipped += count
		}
		if models.TaskStatus(status) != models.TaskPending {
			started = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	complete := total > 0 && completed+failed+skipped == total

	update := `
		UPDATE batches
		SET total_tasks = ?, completed_tasks = ?, failed_tasks = ?, skipped_tasks = ?,
			quota_consumed = ?, is_complete = ?,
			is_paused = CASE WHEN ? = 1 THEN 0 ELSE is_paused END,
			started_at = CASE WHEN ? = 1 THEN COALESCE(started_at, ?) ELSE started_at END,
			completed_at = CASE WHEN ? = 1 THEN COALESCE(completed_at, ?) ELSE NULL END
		WHERE id = ?
	`

	result, err := tx.Exec(update,
		total, completed, failed, skipped, quota, boolToInt(complete),
		boolToInt(complete),
		boolToInt(started), now.UTC(),
		boolToInt(complete), now.UTC(),
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update batch counters: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}

	return getBatch(tx, batchID)
}

func getTask(q queryer, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

func listTasks(q queryer, batchID string, statuses ...models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE batch_id = ?`
	args := []any{batchID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY sequence ASC"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                      models.Task
		status                 string
		startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.BatchID, &t.Sequence, &t.Command, &t.SourceID, &t.SourceType, &t.TargetID, &t.TargetName,
		&status, &t.ErrorCategory, &t.ErrorMessage, &t.RetryCount, &t.MaxRetries, &t.QuotaConsumed, &t.ProjectName,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := models.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = parsed
	t.StartedAt = timeOrZero(startedAt)
	t.CompletedAt = timeOrZero(completedAt)

	return &t, nil
}
