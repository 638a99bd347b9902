package models

import "testing"

func TestCanTransition(t *testing.T) {
	tt := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskFailed, TaskPending, true},
		{TaskFailed, TaskSkipped, true},
		{TaskPending, TaskCompleted, false},
		{TaskCompleted, TaskPending, false},
		{TaskSkipped, TaskInProgress, false},
		{TaskCompleted, TaskCompleted, true},
	}

	for _, tc := range tt {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestParseTaskStatus(t *testing.T) {
	if s, err := ParseTaskStatus("in_progress"); err != nil || s != TaskInProgress {
		t.Errorf("ParseTaskStatus(in_progress) = %q, %v", s, err)
	}
	if _, err := ParseTaskStatus("done"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestBatchValidate(t *testing.T) {
	tt := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{name: "fresh", batch: Batch{Command: "copy", TotalTasks: 3}},
		{name: "complete", batch: Batch{Command: "copy", TotalTasks: 2, CompletedTasks: 1, FailedTasks: 1, IsComplete: true}},
		{name: "overflow", batch: Batch{Command: "copy", TotalTasks: 1, CompletedTasks: 1, SkippedTasks: 1}, wantErr: true},
		{name: "flag without equality", batch: Batch{Command: "copy", TotalTasks: 2, CompletedTasks: 1, IsComplete: true}, wantErr: true},
		{name: "equality without flag", batch: Batch{Command: "copy", TotalTasks: 1, CompletedTasks: 1}, wantErr: true},
		{name: "missing command", batch: Batch{}, wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.batch.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestTaskCanRetry(t *testing.T) {
	task := Task{Status: TaskFailed, RetryCount: 2, MaxRetries: 3}
	if !task.CanRetry() {
		t.Error("expected task under limit to be retryable")
	}
	task.RetryCount = 3
	if task.CanRetry() {
		t.Error("expected task at limit to not be retryable")
	}
}

func TestProjectBudget(t *testing.T) {
	if got := (Project{}).Budget(); got != DefaultDailyBudget {
		t.Errorf("Budget() = %d, want %d", got, DefaultDailyBudget)
	}
	if got := (Project{DailyBudget: 500}).Budget(); got != 500 {
		t.Errorf("Budget() = %d, want 500", got)
	}
}

func TestParseVisibility(t *testing.T) {
	if v, err := ParseVisibility("PUBLIC"); err != nil || v != VisibilityPublic {
		t.Errorf("ParseVisibility(PUBLIC) = %q, %v", v, err)
	}
	if _, err := ParseVisibility("friends"); err == nil {
		t.Error("expected error for unknown visibility")
	}
}
