package journal

import (
	"fmt"
	"time"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
)

// Summary is a point-in-time report on a batch.
type Summary struct {
	Batch      *models.Batch
	Pending    int
	InProgress int
	// Categories counts FAILED and SKIPPED tasks by recorded error category.
	Categories map[failures.Category]int
	Failed     []*models.Task
	ETA        time.Duration
}

// ResumeCommand returns the invocation that continues the batch.
func (s *Summary) ResumeCommand() string {
	return ResumeCommand(s.Batch.ID)
}

// ResumeCommand returns the invocation that continues batchID.
func ResumeCommand(batchID string) string {
	return fmt.Sprintf("ytq batch resume --batch %s", batchID)
}

// Summary reports counts, a failure histogram and an ETA for a batch.
//
// The ETA is the mean duration of completed tasks times the number of unfinished tasks.
func (j *Journal) Summary(batchID string) (*Summary, error) {
	batch, err := j.Batch(batchID)
	if err != nil {
		return nil, err
	}

	tasks, err := j.tasks.List(batchID)
	if err != nil {
		return nil, err
	}

	s := &Summary{Batch: batch, Categories: make(map[failures.Category]int)}

	// Retried tasks span the pause before their resume, so they only count when nothing else finished.
	var firstTry, retried time.Duration
	firstTryN, retriedN := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case models.TaskPending:
			s.Pending++
		case models.TaskInProgress:
			s.InProgress++
		case models.TaskCompleted:
			if t.StartedAt.IsZero() || !t.CompletedAt.After(t.StartedAt) {
				break
			}
			if t.RetryCount == 0 {
				firstTry += t.CompletedAt.Sub(t.StartedAt)
				firstTryN++
			} else {
				retried += t.CompletedAt.Sub(t.StartedAt)
				retriedN++
			}
		case models.TaskFailed:
			s.Failed = append(s.Failed, t)
		}

		if t.ErrorCategory != "" && (t.Status == models.TaskFailed || t.Status == models.TaskSkipped) {
			s.Categories[failures.ParseCategory(t.ErrorCategory)]++
		}
	}

	total, completed := firstTry, firstTryN
	if completed == 0 {
		total, completed = retried, retriedN
	}
	if completed > 0 {
		s.ETA = total / time.Duration(completed) * time.Duration(s.Pending+s.InProgress)
	}

	return s, nil
}
