package formatter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/journal"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
	"github.com/desertthunder/ytq/internal/tasks"
)

func pausedReport() *Report {
	failed := &models.Task{
		ID: "t2", Sequence: 2, SourceID: "PL2", SourceType: tasks.SourcePlaylist,
		Status: models.TaskFailed, ErrorCategory: string(failures.QuotaExceeded),
		ErrorMessage: "daily limit", RetryCount: 0, QuotaConsumed: 0, ProjectName: "p1",
	}
	return &Report{
		Summary: &journal.Summary{
			Batch: &models.Batch{
				ID: "b1", Command: tasks.CommandCopy, Source: "sources.txt",
				TotalTasks: 3, CompletedTasks: 1, FailedTasks: 1,
				IsPaused: true, PauseReason: "daily quota exhausted for quota group \"personal\"",
				QuotaConsumed: 153,
			},
			Pending:    1,
			Categories: map[failures.Category]int{failures.QuotaExceeded: 1},
			Failed:     []*models.Task{failed},
			ETA:        90 * time.Second,
		},
		Tasks: []*models.Task{
			{ID: "t1", Sequence: 1, SourceID: "PL1", SourceType: tasks.SourcePlaylist, TargetID: "NEW1", Status: models.TaskCompleted, QuotaConsumed: 153, ProjectName: "p1"},
			failed,
			{ID: "t3", Sequence: 3, SourceID: "PL3, with comma", SourceType: tasks.SourcePlaylist, Status: models.TaskPending},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToText paused", func(t *testing.T) {
		output := string(ExportToText(pausedReport()))

		for _, want := range []string{
			"Batch b1 (copy: sources.txt)",
			"3 total, 1 completed, 1 failed, 0 skipped, 1 pending",
			"Quota consumed: 153 units",
			"Estimated time remaining: 1m30s",
			"QUOTA_EXCEEDED",
			"#2 PL2: QUOTA_EXCEEDED: daily limit",
			"Paused: daily quota exhausted",
			"Resume with: ytq batch resume --batch b1",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("text output missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText complete", func(t *testing.T) {
		r := &Report{Summary: &journal.Summary{
			Batch:      &models.Batch{ID: "b2", Command: tasks.CommandSync, Source: "PL1", TotalTasks: 1, CompletedTasks: 1, IsComplete: true},
			Categories: map[failures.Category]int{},
		}}
		output := string(ExportToText(r))

		if !strings.Contains(output, "complete") {
			t.Errorf("expected complete status, got:\n%s", output)
		}
		if strings.Contains(output, "Resume with") || strings.Contains(output, "Paused") {
			t.Errorf("complete batch should not print resume hints, got:\n%s", output)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(pausedReport())
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var got reportJSON
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}

		if got.ID != "b1" || got.Total != 3 || got.Pending != 1 || !got.IsPaused {
			t.Errorf("unexpected report header %+v", got)
		}
		if got.Categories["QUOTA_EXCEEDED"] != 1 {
			t.Errorf("expected category histogram, got %v", got.Categories)
		}
		if got.ResumeCommand != "ytq batch resume --batch b1" {
			t.Errorf("unexpected resume command %q", got.ResumeCommand)
		}
		if len(got.Tasks) != 3 || got.Tasks[0].TargetID != "NEW1" {
			t.Errorf("unexpected tasks %+v", got.Tasks)
		}
	})

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(pausedReport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(records) != 4 {
			t.Fatalf("expected header and 3 rows, got %d", len(records))
		}
		if records[0][0] != "Sequence" || records[0][5] != "Status" {
			t.Errorf("unexpected headers %v", records[0])
		}
		if records[2][6] != "QUOTA_EXCEEDED" {
			t.Errorf("expected category on failed row, got %v", records[2])
		}
		if records[3][2] != "PL3, with comma" {
			t.Errorf("expected quoted source to round trip, got %q", records[3][2])
		}
	})

	t.Run("Export", func(t *testing.T) {
		tt := []struct {
			format  string
			prefix  string
			wantErr bool
		}{
			{format: "", prefix: "Batch"},
			{format: "TEXT", prefix: "Batch"},
			{format: "json", prefix: "{"},
			{format: "csv", prefix: "Sequence"},
			{format: "yaml", wantErr: true},
		}

		for _, tc := range tt {
			t.Run(tc.format, func(t *testing.T) {
				data, err := Export(pausedReport(), tc.format)
				if tc.wantErr {
					if !errors.Is(err, shared.ErrInvalidArgument) {
						t.Fatalf("expected ErrInvalidArgument, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Export failed: %v", err)
				}
				if !strings.Contains(string(data), tc.prefix) {
					t.Errorf("expected output containing %q, got %s", tc.prefix, data)
				}
			})
		}
	})

	t.Run("WriteReport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reports", "b1.csv")
		if err := WriteReport(pausedReport(), FormatCSV, path); err != nil {
			t.Fatalf("WriteReport failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("report not written: %v", err)
		}
		if !strings.HasPrefix(string(data), "Sequence,") {
			t.Errorf("unexpected report contents %s", data)
		}
	})
}

func TestDiffRendering(t *testing.T) {
	t.Run("DiffToText", func(t *testing.T) {
		d := diff.Diff{
			Additions: []models.Item{{VideoID: "v4", Title: "Four"}},
			Removals:  []models.Item{{VideoID: "v1", EntryID: "e1"}},
			Reorders:  []diff.Reorder{{Index: 0, Item: models.Item{VideoID: "v3"}}},
			Metadata:  map[string]string{diff.FieldTitle: "Renamed"},
		}
		output := string(DiffToText("PL1", d))

		for _, want := range []string{"PL1: 4 writes", "+ v4 (Four)", "- v1", "~ title = \"Renamed\"", "> v3 to 0"} {
			if !strings.Contains(output, want) {
				t.Errorf("diff output missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("DiffToText empty", func(t *testing.T) {
		if output := string(DiffToText("PL1", diff.Diff{})); !strings.Contains(output, "up to date") {
			t.Errorf("expected up to date, got %s", output)
		}
	})

	t.Run("PlansToText", func(t *testing.T) {
		plans := []tasks.Plan{
			{SourceID: "PL1", Create: true, Diff: diff.Diff{Additions: []models.Item{{VideoID: "a"}, {VideoID: "b"}}}, Cost: 150},
			{SourceID: "PL2", TargetID: "PL9", Diff: diff.Diff{Removals: []models.Item{{VideoID: "c"}}}, Cost: 50},
			{SourceID: "PL3", Err: failures.New(failures.NotFound, 404, "", "gone", nil)},
		}
		output := string(PlansToText(plans))

		for _, want := range []string{
			"PL1 -> new playlist: create playlist, 2 items, 150 units",
			"PL2 -> PL9: 1 writes, 50 units",
			"PL3: NOT_FOUND",
			"3 tasks, 1 unreadable, 200 units needed",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("plan output missing %q, got:\n%s", want, output)
			}
		}
	})
}
