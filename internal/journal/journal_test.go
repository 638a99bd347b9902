package journal

import (
	"database/sql"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db := openDB(t, ":memory:")
	t.Cleanup(func() { db.Close() })
	return New(db, 3)
}

func seed(t *testing.T, j *Journal, n int) (string, []*models.Task) {
	t.Helper()

	batchID, err := j.CreateBatch("copy", "sources.txt")
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	tasks := make([]*models.Task, n)
	for i := range tasks {
		task, err := j.AddTask(batchID, "PL"+string(rune('A'+i)), "playlist", "")
		if err != nil {
			t.Fatalf("AddTask() error = %v", err)
		}
		tasks[i] = task
	}
	return batchID, tasks
}

func mustUpdate(t *testing.T, j *Journal, u TaskUpdate) *models.Batch {
	t.Helper()
	_, b, err := j.UpdateTask(u)
	if err != nil {
		t.Fatalf("UpdateTask(%s -> %s) error = %v", u.ID, u.Status, err)
	}
	return b
}

func run(t *testing.T, j *Journal, id string, to models.TaskStatus, ce *failures.ClassifiedError) *models.Batch {
	t.Helper()
	mustUpdate(t, j, TaskUpdate{ID: id, Status: models.TaskInProgress, ProjectName: "p1"})
	return mustUpdate(t, j, TaskUpdate{ID: id, Status: to, Err: ce, QuotaConsumed: 50})
}

func TestJournal(t *testing.T) {
	t.Run("CreateBatch and AddTask", func(t *testing.T) {
		j := newTestJournal(t)
		batchID, tasks := seed(t, j, 3)

		batch, err := j.Batch(batchID)
		if err != nil {
			t.Fatalf("Batch() error = %v", err)
		}
		if batch.TotalTasks != 3 || batch.IsComplete {
			t.Errorf("unexpected batch %+v", batch)
		}
		for i, task := range tasks {
			if task.Sequence != i+1 || task.Status != models.TaskPending || task.MaxRetries != 3 || task.Command != "copy" {
				t.Errorf("unexpected task %+v", task)
			}
		}

		if _, err := j.AddTask("missing", "x", "playlist", ""); !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})

	t.Run("UpdateTask records outcome", func(t *testing.T) {
		j := newTestJournal(t)
		_, tasks := seed(t, j, 2)

		ce := failures.New(failures.NotFound, 404, "playlistNotFound", "gone", nil)
		b := run(t, j, tasks[0].ID, models.TaskFailed, ce)
		if b.FailedTasks != 1 || b.QuotaConsumed != 50 {
			t.Errorf("unexpected batch %+v", b)
		}

		task, err := j.Task(tasks[0].ID)
		if err != nil {
			t.Fatalf("Task() error = %v", err)
		}
		if task.ErrorCategory != "NOT_FOUND" || task.ErrorMessage == "" || task.ProjectName != "p1" {
			t.Errorf("unexpected task %+v", task)
		}
		if task.StartedAt.IsZero() {
			t.Error("expected a started timestamp")
		}
		if !task.CompletedAt.IsZero() {
			t.Error("a failed task with retries left should have no completed timestamp")
		}
	})

	t.Run("timestamps are written once across retries", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		batchID, tasks := seed(t, j, 1)
		id := tasks[0].ID
		first := now

		run(t, j, id, models.TaskFailed, failures.New(failures.ServerError, 500, "", "", nil))
		now = now.Add(time.Hour)
		if _, err := j.Resume(batchID, false); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		mustUpdate(t, j, TaskUpdate{ID: id, Status: models.TaskInProgress})
		now = now.Add(time.Minute)
		done := now
		mustUpdate(t, j, TaskUpdate{ID: id, Status: models.TaskCompleted})

		task, err := j.Task(id)
		if err != nil {
			t.Fatalf("Task() error = %v", err)
		}
		if !task.StartedAt.Equal(first) {
			t.Errorf("StartedAt = %v, want first attempt %v", task.StartedAt, first)
		}
		if !task.CompletedAt.Equal(done) {
			t.Errorf("CompletedAt = %v, want %v", task.CompletedAt, done)
		}
	})

	t.Run("exhausted failure completes once", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		batchID, tasks := seed(t, j, 1)
		id := tasks[0].ID
		ce := failures.New(failures.ServerError, 500, "", "", nil)
		for i := 0; i < 3; i++ {
			run(t, j, id, models.TaskFailed, ce)
			if _, err := j.Resume(batchID, false); err != nil {
				t.Fatalf("Resume() error = %v", err)
			}
		}
		run(t, j, id, models.TaskFailed, ce)
		exhausted := now

		now = now.Add(time.Hour)
		if _, err := j.Resume(batchID, true); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}

		task, _ := j.Task(id)
		if !task.CompletedAt.Equal(exhausted) {
			t.Errorf("CompletedAt = %v, want %v", task.CompletedAt, exhausted)
		}
	})

	t.Run("illegal transitions are rejected", func(t *testing.T) {
		j := newTestJournal(t)
		_, tasks := seed(t, j, 1)

		_, _, err := j.UpdateTask(TaskUpdate{ID: tasks[0].ID, Status: models.TaskCompleted})
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("expected ErrIllegalTransition, got %v", err)
		}

		run(t, j, tasks[0].ID, models.TaskCompleted, nil)
		_, _, err = j.UpdateTask(TaskUpdate{ID: tasks[0].ID, Status: models.TaskPending})
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("expected ErrIllegalTransition, got %v", err)
		}

		if _, _, err := j.UpdateTask(TaskUpdate{ID: "missing", Status: models.TaskInProgress}); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})

	t.Run("counter invariant holds at every step", func(t *testing.T) {
		r := rand.New(rand.NewPCG(3, 5))
		outcomes := []models.TaskStatus{models.TaskCompleted, models.TaskFailed, models.TaskSkipped}

		for round := 0; round < 20; round++ {
			j := newTestJournal(t)
			n := 1 + r.IntN(8)
			_, tasks := seed(t, j, n)

			for i, task := range tasks {
				b := mustUpdate(t, j, TaskUpdate{ID: task.ID, Status: models.TaskInProgress})
				if err := b.Validate(); err != nil {
					t.Fatalf("invariant broken: %v", err)
				}

				b = mustUpdate(t, j, TaskUpdate{ID: task.ID, Status: outcomes[r.IntN(len(outcomes))]})
				if err := b.Validate(); err != nil {
					t.Fatalf("invariant broken: %v", err)
				}
				if b.IsComplete != (i == n-1) {
					t.Fatalf("IsComplete = %v after %d/%d tasks", b.IsComplete, i+1, n)
				}
			}
		}
	})

	t.Run("Pause and Resume", func(t *testing.T) {
		j := newTestJournal(t)
		batchID, tasks := seed(t, j, 2)

		run(t, j, tasks[0].ID, models.TaskFailed, failures.New(failures.QuotaExceeded, 403, "quotaExceeded", "", nil))
		if err := j.Pause(batchID, "quota exhausted"); err != nil {
			t.Fatalf("Pause() error = %v", err)
		}

		b, _ := j.Batch(batchID)
		if !b.IsPaused || b.PauseReason != "quota exhausted" {
			t.Fatalf("unexpected batch %+v", b)
		}

		b, err := j.Resume(batchID, false)
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if b.IsPaused || b.PauseReason != "" || b.LastResumedAt.IsZero() {
			t.Errorf("unexpected batch after resume %+v", b)
		}
		if b.FailedTasks != 0 {
			t.Errorf("failed tasks should re-enter, got %d", b.FailedTasks)
		}

		task, _ := j.Task(tasks[0].ID)
		if task.Status != models.TaskPending || task.RetryCount != 1 {
			t.Errorf("unexpected task %+v", task)
		}

		if _, err := j.Resume("missing", false); !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})

	t.Run("Resume with skip failed", func(t *testing.T) {
		j := newTestJournal(t)
		batchID, tasks := seed(t, j, 2)

		run(t, j, tasks[0].ID, models.TaskFailed, failures.New(failures.ServerError, 500, "", "", nil))
		run(t, j, tasks[1].ID, models.TaskCompleted, nil)

		b, err := j.Resume(batchID, true)
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if !b.IsComplete || b.SkippedTasks != 1 || b.CompletedTasks != 1 {
			t.Errorf("unexpected batch %+v", b)
		}
	})

	t.Run("retry limit", func(t *testing.T) {
		j := newTestJournal(t)
		batchID, tasks := seed(t, j, 1)
		id := tasks[0].ID
		ce := failures.New(failures.ServerError, 500, "", "", nil)

		for i := 0; i < 3; i++ {
			run(t, j, id, models.TaskFailed, ce)
			if _, err := j.Resume(batchID, false); err != nil {
				t.Fatalf("Resume() error = %v", err)
			}
		}
		run(t, j, id, models.TaskFailed, ce)

		resumable, err := j.ResumableTasks(batchID)
		if err != nil {
			t.Fatalf("ResumableTasks() error = %v", err)
		}
		if len(resumable) != 0 {
			t.Errorf("expected no resumable tasks at the limit, got %d", len(resumable))
		}

		b, _ := j.Resume(batchID, false)
		task, _ := j.Task(id)
		if task.Status != models.TaskFailed || task.RetryCount != 3 || !b.IsComplete {
			t.Errorf("unexpected task %+v batch %+v", task, b)
		}

		_, _, err = j.UpdateTask(TaskUpdate{ID: id, Status: models.TaskPending})
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
	})

	t.Run("resume after crash", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "journal.db")

		db := openDB(t, path)
		j := New(db, 3)
		batchID, tasks := seed(t, j, 5)

		run(t, j, tasks[0].ID, models.TaskCompleted, nil)
		run(t, j, tasks[1].ID, models.TaskFailed, failures.New(failures.NetworkError, 0, "", "", nil))
		mustUpdate(t, j, TaskUpdate{ID: tasks[2].ID, Status: models.TaskInProgress})
		db.Close()

		db = openDB(t, path)
		defer db.Close()
		j = New(db, 3)

		resumable, err := j.ResumableTasks(batchID)
		if err != nil {
			t.Fatalf("ResumableTasks() error = %v", err)
		}
		got := make([]string, len(resumable))
		for i, task := range resumable {
			got[i] = task.ID
		}
		want := []string{tasks[1].ID, tasks[3].ID, tasks[4].ID}
		if len(got) != len(want) {
			t.Fatalf("ResumableTasks() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("ResumableTasks() = %v, want %v", got, want)
			}
		}

		if _, err := j.Resume(batchID, false); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		resumable, _ = j.ResumableTasks(batchID)
		if len(resumable) != 4 {
			t.Fatalf("expected 4 resumable tasks after resume, got %d", len(resumable))
		}

		var b *models.Batch
		for _, task := range resumable {
			b = run(t, j, task.ID, models.TaskCompleted, nil)
		}
		if !b.IsComplete || b.CompletedTasks != 5 || b.FailedTasks != 0 {
			t.Errorf("unexpected batch %+v", b)
		}

		if _, err := j.LatestIncomplete("copy"); !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected no incomplete batches, got %v", err)
		}
	})

	t.Run("LatestIncomplete", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		older, _ := seed(t, j, 1)
		now = now.Add(time.Minute)
		newer, _ := seed(t, j, 1)

		got, err := j.LatestIncomplete("copy")
		if err != nil {
			t.Fatalf("LatestIncomplete() error = %v", err)
		}
		if got.ID != newer {
			t.Errorf("LatestIncomplete() = %s, want %s (older %s)", got.ID, newer, older)
		}

		if _, err := j.LatestIncomplete("sync"); !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}

		all, _ := j.IncompleteBatches("")
		if len(all) != 2 {
			t.Errorf("IncompleteBatches() = %d, want 2", len(all))
		}
	})

	t.Run("Cleanup", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		done, doneTasks := seed(t, j, 1)
		run(t, j, doneTasks[0].ID, models.TaskCompleted, nil)

		open, _ := seed(t, j, 1)

		paused, pausedTasks := seed(t, j, 2)
		run(t, j, pausedTasks[0].ID, models.TaskCompleted, nil)
		_ = j.Pause(paused, "manual")

		now = now.Add(48 * time.Hour)

		removed, err := j.Cleanup(24 * time.Hour)
		if err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("Cleanup() removed %d, want 1", removed)
		}
		if _, err := j.Batch(done); !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected completed batch to be removed, got %v", err)
		}
		for _, id := range []string{open, paused} {
			if _, err := j.Batch(id); err != nil {
				t.Errorf("batch %s should survive cleanup: %v", id, err)
			}
		}

		if tasks, _ := j.Tasks(done); len(tasks) != 0 {
			t.Errorf("expected tasks of removed batch to be gone, got %d", len(tasks))
		}
	})

	t.Run("Summary ETA ignores the pause of retried tasks", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		batchID, tasks := seed(t, j, 3)
		mustUpdate(t, j, TaskUpdate{ID: tasks[0].ID, Status: models.TaskInProgress})
		now = now.Add(10 * time.Second)
		mustUpdate(t, j, TaskUpdate{ID: tasks[0].ID, Status: models.TaskFailed, Err: failures.New(failures.ServerError, 500, "", "", nil)})
		now = now.Add(24 * time.Hour)
		if _, err := j.Resume(batchID, false); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		mustUpdate(t, j, TaskUpdate{ID: tasks[0].ID, Status: models.TaskInProgress})
		now = now.Add(10 * time.Second)
		mustUpdate(t, j, TaskUpdate{ID: tasks[0].ID, Status: models.TaskCompleted})

		s, err := j.Summary(batchID)
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if want := 2 * (24*time.Hour + 20*time.Second); s.ETA != want {
			t.Errorf("ETA with only retried tasks = %v, want %v", s.ETA, want)
		}

		mustUpdate(t, j, TaskUpdate{ID: tasks[1].ID, Status: models.TaskInProgress})
		now = now.Add(5 * time.Second)
		mustUpdate(t, j, TaskUpdate{ID: tasks[1].ID, Status: models.TaskCompleted})

		s, _ = j.Summary(batchID)
		if s.ETA != 5*time.Second {
			t.Errorf("ETA = %v, want 5s from the first-try task", s.ETA)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		j := newTestJournal(t)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		j.SetClock(func() time.Time { return now })

		batchID, tasks := seed(t, j, 5)
		for _, task := range tasks[:2] {
			mustUpdate(t, j, TaskUpdate{ID: task.ID, Status: models.TaskInProgress})
			now = now.Add(10 * time.Second)
			mustUpdate(t, j, TaskUpdate{ID: task.ID, Status: models.TaskCompleted})
		}
		run(t, j, tasks[2].ID, models.TaskFailed, failures.New(failures.NotFound, 404, "", "", nil))

		s, err := j.Summary(batchID)
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if s.Pending != 2 || s.Batch.CompletedTasks != 2 || len(s.Failed) != 1 {
			t.Errorf("unexpected summary %+v", s)
		}
		if s.Categories[failures.NotFound] != 1 {
			t.Errorf("unexpected histogram %v", s.Categories)
		}
		if s.ETA != 20*time.Second {
			t.Errorf("ETA = %v, want 20s", s.ETA)
		}
		if s.ResumeCommand() != "ytq batch resume --batch "+batchID {
			t.Errorf("ResumeCommand() = %s", s.ResumeCommand())
		}
	})
}
