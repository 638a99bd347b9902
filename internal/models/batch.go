package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries is the number of times a failed task may be re-entered by resume.
const DefaultMaxRetries = 3

// TaskStatus is the lifecycle state of a [Task].
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskSkipped    TaskStatus = "SKIPPED"
)

var allowedTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskInProgress: true,
		TaskSkipped:    true,
	},
	TaskInProgress: {
		TaskCompleted: true,
		TaskFailed:    true,
		TaskSkipped:   true,
		TaskPending:   true, // interrupted run returned to the queue
	},
	TaskFailed: {
		TaskPending: true, // resume, while retries remain
		TaskSkipped: true, // resume with skip-failed
	},
	TaskCompleted: {},
	TaskSkipped:   {},
}

// ParseTaskStatus parses a stored status string.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	status := TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := allowedTransitions[status]; !ok {
		return "", fmt.Errorf("unknown task status %q", raw)
	}
	return status, nil
}

// Terminal reports whether the status counts toward a batch's completion.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

// Batch is a journaled multi-task operation.
//
// CompletedTasks + FailedTasks + SkippedTasks never exceeds TotalTasks.
// IsComplete holds exactly when a batch with at least one task reaches equality.
type Batch struct {
	ID             string
	Command        string
	Source         string
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	SkippedTasks   int
	IsComplete     bool
	IsPaused       bool
	PauseReason    string
	QuotaConsumed  int
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	LastResumedAt  time.Time
}

// Finished returns the number of tasks in a terminal state.
func (b *Batch) Finished() int {
	return b.CompletedTasks + b.FailedTasks + b.SkippedTasks
}

// Remaining returns the number of tasks not yet in a terminal state.
func (b *Batch) Remaining() int {
	return b.TotalTasks - b.Finished()
}

// Done reports whether every task of a non-empty batch is terminal.
func (b *Batch) Done() bool {
	return b.TotalTasks > 0 && b.Finished() == b.TotalTasks
}

// Validate checks the counter invariant.
func (b *Batch) Validate() error {
	if strings.TrimSpace(b.Command) == "" {
		return fmt.Errorf("batch command is required")
	}
	if b.CompletedTasks < 0 || b.FailedTasks < 0 || b.SkippedTasks < 0 || b.TotalTasks < 0 {
		return fmt.Errorf("batch counters must not be negative")
	}
	if b.Finished() > b.TotalTasks {
		return fmt.Errorf("batch %s has %d finished tasks but only %d total", b.ID, b.Finished(), b.TotalTasks)
	}
	if b.IsComplete != b.Done() {
		return fmt.Errorf("batch %s completion flag disagrees with counters", b.ID)
	}
	return nil
}

// Task is one independent, idempotent unit of work inside a [Batch].
type Task struct {
	ID            string
	BatchID       string
	Sequence      int
	Command       string
	SourceID      string
	SourceType    string
	TargetID      string
	TargetName    string
	Status        TaskStatus
	ErrorCategory string
	ErrorMessage  string
	RetryCount    int
	MaxRetries    int
	QuotaConsumed int
	ProjectName   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
}

// CanRetry reports whether a failed task may be re-entered by resume.
func (t *Task) CanRetry() bool {
	return t.Status == TaskFailed && t.RetryCount < t.MaxRetries
}

// Validate checks required fields.
func (t *Task) Validate() error {
	if t.BatchID == "" {
		return fmt.Errorf("task batch id is required")
	}
	if strings.TrimSpace(t.SourceID) == "" {
		return fmt.Errorf("task source id is required")
	}
	if _, ok := allowedTransitions[t.Status]; !ok {
		return fmt.Errorf("task status %q is invalid", t.Status)
	}
	if t.RetryCount < 0 || t.MaxRetries < 0 {
		return fmt.Errorf("task retry counters must not be negative")
	}
	return nil
}
