// Package formatter renders batch reports and write-set previews as text, JSON, or CSV.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/journal"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
	"github.com/desertthunder/ytq/internal/tasks"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Report is a batch summary plus its task rows.
type Report struct {
	Summary *journal.Summary
	Tasks   []*models.Task
}

// ParseFormat normalizes a --format value.
func ParseFormat(raw string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(raw)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (text, json, csv)", shared.ErrInvalidArgument, raw)
	}
}

// Export renders r in format.
func Export(r *Report, format string) ([]byte, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatJSON:
		return ExportToJSON(r)
	case FormatCSV:
		return ExportToCSV(r)
	default:
		return ExportToText(r), nil
	}
}

// ExportToText renders a human readable batch report.
//
// A paused batch ends with its reason and the resume invocation.
func ExportToText(r *Report) []byte {
	var buf bytes.Buffer
	s := r.Summary
	b := s.Batch

	buf.WriteString(Title(fmt.Sprintf("Batch %s (%s: %s)", b.ID, b.Command, b.Source)) + "\n")
	buf.WriteString(fmt.Sprintf("Status: %s\n", statusLine(b)))
	buf.WriteString(fmt.Sprintf("Tasks: %d total, %d completed, %d failed, %d skipped, %d pending\n",
		b.TotalTasks, b.CompletedTasks, b.FailedTasks, b.SkippedTasks, s.Pending+s.InProgress))
	buf.WriteString(fmt.Sprintf("Quota consumed: %d units\n", b.QuotaConsumed))
	if s.ETA > 0 && !b.IsComplete {
		buf.WriteString(fmt.Sprintf("Estimated time remaining: %s\n", s.ETA.Round(time.Second)))
	}

	if len(s.Categories) > 0 {
		buf.WriteString("\nFailures by category:\n")
		for _, c := range failures.Categories {
			if n := s.Categories[c]; n > 0 {
				buf.WriteString(fmt.Sprintf("  %-18s %d\n", c, n))
			}
		}
	}

	if len(s.Failed) > 0 {
		buf.WriteString("\nFailed tasks:\n")
		for _, t := range s.Failed {
			line := fmt.Sprintf("  #%d %s: %s", t.Sequence, t.SourceID, t.ErrorCategory)
			if t.ErrorMessage != "" {
				line += ": " + t.ErrorMessage
			}
			buf.WriteString(Err(line) + "\n")
			if rem := failures.ParseCategory(t.ErrorCategory).Remediation(); rem != "" {
				buf.WriteString("    " + Help(rem) + "\n")
			}
		}
	}

	if b.IsPaused {
		buf.WriteString("\n" + Warn("Paused: "+b.PauseReason) + "\n")
	}
	if !b.IsComplete {
		buf.WriteString("Resume with: " + s.ResumeCommand() + "\n")
	}

	return buf.Bytes()
}

func statusLine(b *models.Batch) string {
	switch {
	case b.IsComplete && b.FailedTasks == 0:
		return OK("complete")
	case b.IsComplete:
		return Warn("complete with failures")
	case b.IsPaused:
		return Warn("paused")
	default:
		return "running"
	}
}

type reportJSON struct {
	ID            string         `json:"id"`
	Command       string         `json:"command"`
	Source        string         `json:"source"`
	Total         int            `json:"total"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	Pending       int            `json:"pending"`
	InProgress    int            `json:"in_progress"`
	IsComplete    bool           `json:"is_complete"`
	IsPaused      bool           `json:"is_paused"`
	PauseReason   string         `json:"pause_reason,omitempty"`
	QuotaConsumed int            `json:"quota_consumed"`
	ETASeconds    float64        `json:"eta_seconds,omitempty"`
	Categories    map[string]int `json:"categories,omitempty"`
	ResumeCommand string         `json:"resume_command,omitempty"`
	Tasks         []taskJSON     `json:"tasks"`
}

type taskJSON struct {
	ID            string `json:"id"`
	Sequence      int    `json:"sequence"`
	SourceID      string `json:"source_id"`
	SourceType    string `json:"source_type"`
	TargetID      string `json:"target_id,omitempty"`
	Status        string `json:"status"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	RetryCount    int    `json:"retry_count"`
	QuotaConsumed int    `json:"quota_consumed"`
	Project       string `json:"project,omitempty"`
}

// ExportToJSON renders the report as indented JSON.
func ExportToJSON(r *Report) ([]byte, error) {
	s := r.Summary
	b := s.Batch
	out := reportJSON{
		ID:            b.ID,
		Command:       b.Command,
		Source:        b.Source,
		Total:         b.TotalTasks,
		Completed:     b.CompletedTasks,
		Failed:        b.FailedTasks,
		Skipped:       b.SkippedTasks,
		Pending:       s.Pending,
		InProgress:    s.InProgress,
		IsComplete:    b.IsComplete,
		IsPaused:      b.IsPaused,
		PauseReason:   b.PauseReason,
		QuotaConsumed: b.QuotaConsumed,
		ETASeconds:    s.ETA.Seconds(),
		Tasks:         make([]taskJSON, 0, len(r.Tasks)),
	}
	if len(s.Categories) > 0 {
		out.Categories = make(map[string]int, len(s.Categories))
		for c, n := range s.Categories {
			out.Categories[string(c)] = n
		}
	}
	if !b.IsComplete {
		out.ResumeCommand = s.ResumeCommand()
	}
	for _, t := range r.Tasks {
		out.Tasks = append(out.Tasks, taskJSON{
			ID:            t.ID,
			Sequence:      t.Sequence,
			SourceID:      t.SourceID,
			SourceType:    t.SourceType,
			TargetID:      t.TargetID,
			Status:        string(t.Status),
			ErrorCategory: t.ErrorCategory,
			ErrorMessage:  t.ErrorMessage,
			RetryCount:    t.RetryCount,
			QuotaConsumed: t.QuotaConsumed,
			Project:       t.ProjectName,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// ExportToCSV renders one row per task.
func ExportToCSV(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "Task", "Source", "SourceType", "Target", "Status", "Category", "Error", "Retries", "Quota", "Project"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, t := range r.Tasks {
		record := []string{
			strconv.Itoa(t.Sequence),
			t.ID,
			t.SourceID,
			t.SourceType,
			t.TargetID,
			string(t.Status),
			t.ErrorCategory,
			t.ErrorMessage,
			strconv.Itoa(t.RetryCount),
			strconv.Itoa(t.QuotaConsumed),
			t.ProjectName,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteReport renders r and writes it to path, creating parent directories.
func WriteReport(r *Report, format, path string) error {
	data, err := Export(r, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// DiffToText renders one playlist's write set.
func DiffToText(playlistID string, d diff.Diff) []byte {
	var buf bytes.Buffer
	writeDiff(&buf, playlistID, d)
	return buf.Bytes()
}

func writeDiff(buf *bytes.Buffer, label string, d diff.Diff) {
	if d.Empty() {
		buf.WriteString(OK(label+": up to date") + "\n")
		return
	}

	buf.WriteString(Title(fmt.Sprintf("%s: %d writes, %d units", label, d.Writes(), d.Cost())) + "\n")
	for _, item := range d.Additions {
		buf.WriteString(fmt.Sprintf("  + %s%s\n", item.VideoID, itemTitle(item)))
	}
	for _, item := range d.Removals {
		buf.WriteString(fmt.Sprintf("  - %s%s\n", item.VideoID, itemTitle(item)))
	}
	for _, field := range []string{diff.FieldTitle, diff.FieldDescription, diff.FieldVisibility} {
		if v, ok := d.Metadata[field]; ok {
			buf.WriteString(fmt.Sprintf("  ~ %s = %q\n", field, v))
		}
	}
	for _, move := range d.Reorders {
		buf.WriteString(fmt.Sprintf("  > %s to %d\n", move.Item.VideoID, move.Index))
	}
}

func itemTitle(item models.Item) string {
	if item.Title == "" {
		return ""
	}
	return " (" + item.Title + ")"
}

// PlansToText renders a dry-run preview with a quota total.
func PlansToText(plans []tasks.Plan) []byte {
	var buf bytes.Buffer
	total, failed := 0, 0

	for _, p := range plans {
		label := p.SourceID
		switch {
		case p.Create:
			label += " -> new playlist"
		case p.TargetID != "" && p.TargetID != p.SourceID:
			label += " -> " + p.TargetID
		}

		if p.Err != nil {
			failed++
			buf.WriteString(Err(fmt.Sprintf("%s: %s", label, p.Err.Error())) + "\n")
			continue
		}

		total += p.Cost
		if p.Create {
			buf.WriteString(Title(fmt.Sprintf("%s: create playlist, %d items, %d units", label, len(p.Diff.Additions), p.Cost)) + "\n")
			continue
		}
		writeDiff(&buf, label, p.Diff)
	}

	buf.WriteString(fmt.Sprintf("\n%d tasks, %d unreadable, %d units needed\n", len(plans), failed, total))
	return buf.Bytes()
}
