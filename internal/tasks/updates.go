package tasks

import (
	"fmt"

	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/models"
)

// ProgressUpdate represents a progress event during a batch run.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current task number within the run
	Total   int    // Tasks in this run
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ReadState Phase = iota
	PlanWrites
	ApplyWrites
	SwitchCredential
	TaskFinished
	BatchPaused
)

func (p Phase) String() string {
	switch p {
	case ReadState:
		return "read_state"
	case PlanWrites:
		return "plan_writes"
	case ApplyWrites:
		return "apply_writes"
	case SwitchCredential:
		return "switch_credential"
	case TaskFinished:
		return "task_finished"
	case BatchPaused:
		return "batch_paused"
	default:
		return ""
	}
}

func readStateUpdate(step, total int, task *models.Task) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReadState,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reading %s...", step, total, task.SourceID),
	}
}

func planUpdate(step, total int, d diff.Diff) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PlanWrites,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %d additions, %d removals, %d moves (%d units)", step, total, len(d.Additions), len(d.Removals), len(d.Reorders), d.Cost()),
		Data:    d,
	}
}

func switchUpdate(step, total int, from, to string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SwitchCredential,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Quota exhausted on %s, switching to %s", step, total, from, to),
	}
}

func taskFinishedUpdate(step, total int, task *models.Task) ProgressUpdate {
	mark := "✓"
	if task.Status != models.TaskCompleted {
		mark = "✗"
	}
	msg := fmt.Sprintf("[%d/%d] %s %s", step, total, mark, task.SourceID)
	if task.ErrorMessage != "" {
		msg += ": " + task.ErrorMessage
	}
	return ProgressUpdate{
		Phase:   TaskFinished,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    task,
	}
}

func pausedUpdate(step, total int, reason string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchPaused,
		Step:    step,
		Total:   total,
		Message: "Batch paused: " + reason,
	}
}
