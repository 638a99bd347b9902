package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

const batchColumns = `
	id, command, source, total_tasks, completed_tasks, failed_tasks, skipped_tasks,
	is_complete, is_paused, pause_reason, quota_consumed,
	created_at, started_at, completed_at, last_resumed_at
`

// BatchRepository implements models.Repository[*models.Batch] for journaled batches.
//
// Counters are owned by [TaskRepository]; Update here writes only pause and resume state.
type BatchRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.Batch] = (*BatchRepository)(nil)

// NewBatchRepository creates a new BatchRepository with the given database connection
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch with a generated ID and no tasks.
func (r *BatchRepository) Create(batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = shared.GenerateID()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}

	if err := batch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO batches (id, command, source, created_at)
		VALUES (?, ?, ?, ?)
	`

	if _, err := r.db.Exec(query, batch.ID, batch.Command, batch.Source, batch.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	return nil
}

// Get retrieves a batch by ID.
func (r *BatchRepository) Get(id string) (*models.Batch, error) {
	return getBatch(r.db, id)
}

// Update writes the pause state and resume timestamp of an existing batch.
func (r *BatchRepository) Update(batch *models.Batch) error {
	query := `
		UPDATE batches
		SET is_paused = ?, pause_reason = ?, last_resumed_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, boolToInt(batch.IsPaused), batch.PauseReason, nullTime(batch.LastResumedAt), batch.ID)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: batch %s", ErrNotFound, batch.ID)
	}

	return nil
}

// Delete removes a batch and its tasks in one transaction.
func (r *BatchRepository) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks WHERE batch_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// List retrieves batches matching the given criteria, newest first.
//
// Supported criteria: "command" (string), "incomplete" (bool), "paused" (bool).
func (r *BatchRepository) List(criteria map[string]any) ([]*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE 1 = 1`
	args := []any{}

	if command, ok := criteria["command"].(string); ok && command != "" {
		query += " AND command = ?"
		args = append(args, command)
	}

	if incomplete, ok := criteria["incomplete"].(bool); ok && incomplete {
		query += " AND is_complete = 0"
	}

	if paused, ok := criteria["paused"].(bool); ok {
		query += " AND is_paused = ?"
		args = append(args, boolToInt(paused))
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return batches, nil
}

func getBatch(q queryer, id string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = ?`

	batch, err := scanBatch(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var (
		b                                     models.Batch
		isComplete, isPaused                  int
		startedAt, completedAt, lastResumedAt sql.NullTime
	)

	err := row.Scan(
		&b.ID, &b.Command, &b.Source,
		&b.TotalTasks, &b.CompletedTasks, &b.FailedTasks, &b.SkippedTasks,
		&isComplete, &isPaused, &b.PauseReason, &b.QuotaConsumed,
		&b.CreatedAt, &startedAt, &completedAt, &lastResumedAt,
	)
	if err != nil {
		return nil, err
	}

	b.IsComplete = isComplete == 1
	b.IsPaused = isPaused == 1
	b.StartedAt = timeOrZero(startedAt)
	b.CompletedAt = timeOrZero(completedAt)
	b.LastResumedAt = timeOrZero(lastResumedAt)

	return &b, nil
}
