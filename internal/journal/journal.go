// Package journal is the durable batch/task state machine.
//
// Every operation commits before it returns, so a crash between tasks loses nothing and
// a later resume picks up exactly the tasks that have not finished.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/repositories"
)

var (
	ErrBatchNotFound     = errors.New("batch not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrIllegalTransition = errors.New("illegal task transition")
	ErrRetriesExhausted  = errors.New("task has no retries left")
)

// Journal records batches and their tasks.
type Journal struct {
	batches    *repositories.BatchRepository
	tasks      *repositories.TaskRepository
	maxRetries int
	now        func() time.Time
}

// New creates a Journal over db. maxRetries below 1 uses [models.DefaultMaxRetries].
func New(db *sql.DB, maxRetries int) *Journal {
	if maxRetries < 1 {
		maxRetries = models.DefaultMaxRetries
	}
	return &Journal{
		batches:    repositories.NewBatchRepository(db),
		tasks:      repositories.NewTaskRepository(db),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// SetClock replaces the journal's time source.
func (j *Journal) SetClock(now func() time.Time) {
	j.now = now
	j.tasks.SetClock(now)
}

// TaskUpdate is one status change. Err is recorded on FAILED and SKIPPED; QuotaConsumed is added to the task's total.
type TaskUpdate struct {
	ID            string
	Status        models.TaskStatus
	Err           *failures.ClassifiedError
	QuotaConsumed int
	TargetID      string
	ProjectName   string
}

// CreateBatch starts a new batch and returns its ID.
func (j *Journal) CreateBatch(command, source string) (string, error) {
	batch := &models.Batch{Command: command, Source: source, CreatedAt: j.now()}
	if err := j.batches.Create(batch); err != nil {
		return "", err
	}
	return batch.ID, nil
}

// AddTask appends a PENDING task to a batch.
func (j *Journal) AddTask(batchID, sourceID, sourceType, targetName string) (*models.Task, error) {
	batch, err := j.Batch(batchID)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		BatchID:    batchID,
		Command:    batch.Command,
		SourceID:   sourceID,
		SourceType: sourceType,
		TargetName: targetName,
		Status:     models.TaskPending,
		MaxRetries: j.maxRetries,
	}
	if err := j.tasks.Create(task); err != nil {
		return nil, err
	}

	return task, nil
}

// UpdateTask applies one status change to a task and its batch counters atomically.
func (j *Journal) UpdateTask(u TaskUpdate) (*models.Task, *models.Batch, error) {
	task, batch, err := j.tasks.Apply(u.ID, func(task *models.Task) error {
		if err := transition(task, u.Status, j.now()); err != nil {
			return err
		}

		task.QuotaConsumed += u.QuotaConsumed
		if u.TargetID != "" {
			task.TargetID = u.TargetID
		}
		if u.ProjectName != "" {
			task.ProjectName = u.ProjectName
		}
		if u.Err != nil && (u.Status == models.TaskFailed || u.Status == models.TaskSkipped) {
			task.ErrorCategory = string(u.Err.Category)
			task.ErrorMessage = u.Err.Error()
		}

		return nil
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, u.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	return task, batch, nil
}

// transition moves task to status, enforcing the transition table and the retry limit.
//
// StartedAt and CompletedAt are written at most once. StartedAt marks the first
// attempt; CompletedAt marks the point the task can no longer move, so a FAILED
// task with retries left has none.
func transition(task *models.Task, to models.TaskStatus, now time.Time) error {
	from := task.Status
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for task %s", ErrIllegalTransition, from, to, task.ID)
	}

	switch {
	case from == models.TaskFailed && to == models.TaskPending:
		if !task.CanRetry() {
			return fmt.Errorf("%w: %s (%d/%d)", ErrRetriesExhausted, task.ID, task.RetryCount, task.MaxRetries)
		}
		task.RetryCount++
	case to == models.TaskInProgress && from != models.TaskInProgress:
		if task.StartedAt.IsZero() {
			task.StartedAt = now
		}
		task.ErrorCategory, task.ErrorMessage = "", ""
	}

	task.Status = to
	if to.Terminal() && task.CompletedAt.IsZero() && !task.CanRetry() {
		task.CompletedAt = now
	}
	return nil
}

// ResumableTasks returns PENDING tasks and FAILED tasks with retries left, in insertion order.
func (j *Journal) ResumableTasks(batchID string) ([]*models.Task, error) {
	if _, err := j.Batch(batchID); err != nil {
		return nil, err
	}

	tasks, err := j.tasks.List(batchID, models.TaskPending, models.TaskFailed)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskPending || t.CanRetry() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Pause marks a batch paused with a human-readable reason.
func (j *Journal) Pause(batchID, reason string) error {
	batch, err := j.Batch(batchID)
	if err != nil {
		return err
	}

	batch.IsPaused = true
	batch.PauseReason = reason
	return j.batches.Update(batch)
}

// Resume clears the pause and re-enters unfinished work in one transaction.
//
// Interrupted IN_PROGRESS tasks return to PENDING. FAILED tasks under their retry limit
// return to PENDING with an incremented retry count, or become SKIPPED when skipFailed is set.
func (j *Journal) Resume(batchID string, skipFailed bool) (*models.Batch, error) {
	now := j.now()

	batch, err := j.tasks.ApplyAll(batchID, func(task *models.Task) (bool, error) {
		switch task.Status {
		case models.TaskInProgress:
			return true, transition(task, models.TaskPending, now)
		case models.TaskFailed:
			if skipFailed {
				return true, transition(task, models.TaskSkipped, now)
			}
			if task.CanRetry() {
				return true, transition(task, models.TaskPending, now)
			}
		}
		return false, nil
	}, func(b *models.Batch) {
		b.IsPaused = false
		b.PauseReason = ""
		b.LastResumedAt = now
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// Cleanup deletes complete, unpaused batches that finished more than maxAge ago, with their tasks.
func (j *Journal) Cleanup(maxAge time.Duration) (int, error) {
	batches, err := j.batches.List(map[string]any{"paused": false})
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-maxAge)
	removed := 0
	for _, b := range batches {
		if !b.IsComplete || b.CompletedAt.IsZero() || !b.CompletedAt.Before(cutoff) {
			continue
		}
		if err := j.batches.Delete(b.ID); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}

// Batch returns one batch.
func (j *Journal) Batch(id string) (*models.Batch, error) {
	batch, err := j.batches.Get(id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return batch, err
}

// Tasks returns every task of a batch in insertion order.
func (j *Journal) Tasks(batchID string) ([]*models.Task, error) {
	return j.tasks.List(batchID)
}

// Task returns one task.
func (j *Journal) Task(id string) (*models.Task, error) {
	task, err := j.tasks.Get(id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// Batches returns every batch, newest first.
func (j *Journal) Batches() ([]*models.Batch, error) {
	return j.batches.List(map[string]any{})
}

// IncompleteBatches returns unfinished batches, newest first. An empty command matches all.
func (j *Journal) IncompleteBatches(command string) ([]*models.Batch, error) {
	return j.batches.List(map[string]any{"command": command, "incomplete": true})
}

// LatestIncomplete returns the newest unfinished batch for command.
func (j *Journal) LatestIncomplete(command string) (*models.Batch, error) {
	batches, err := j.IncompleteBatches(command)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		if command == "" {
			return nil, fmt.Errorf("%w: no incomplete batches", ErrBatchNotFound)
		}
		return nil, fmt.Errorf("%w: no incomplete %s batch", ErrBatchNotFound, command)
	}
	return batches[0], nil
}
