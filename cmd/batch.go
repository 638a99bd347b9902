package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/formatter"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/repositories"
	"github.com/desertthunder/ytq/internal/tasks"
)

// errBatchPaused is returned after a paused batch's report has been printed.
var errBatchPaused = errors.New("batch paused")

func (r *Runner) options(cmd *cli.Command) tasks.Options {
	delay := r.config.Batch.Delay.Duration
	if cmd.IsSet("delay") {
		delay = cmd.Duration("delay")
	}
	return tasks.Options{
		Project:      cmd.String("project"),
		Group:        cmd.String("group"),
		Environment:  cmd.String("env"),
		Delay:        delay,
		FallbackRead: cmd.Bool("fallback-read"),
		DryRun:       cmd.Bool("dry-run"),
		SkipFailed:   cmd.Bool("skip-failed"),
	}
}

// watch prints progress updates until the returned stop function is called.
func (r *Runner) watch() (chan tasks.ProgressUpdate, func()) {
	progress := make(chan tasks.ProgressUpdate, 50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			switch update.Phase {
			case tasks.ReadState:
				r.writePlain("%s\n", update.Message)
			case tasks.SwitchCredential, tasks.BatchPaused:
				r.writePlain("%s\n", formatter.Warn(update.Message))
			case tasks.TaskFinished:
				if task, ok := update.Data.(*models.Task); ok && task.Status != models.TaskCompleted {
					r.writePlain("%s\n", formatter.Err(update.Message))
					continue
				}
				r.writePlain("%s\n", formatter.OK(update.Message))
			default:
				r.logger.Debug(update.Message, "phase", update.Phase.String())
			}
		}
	}()

	return progress, func() {
		close(progress)
		wg.Wait()
	}
}

// finish prints the batch report; a paused batch turns into [errBatchPaused].
func (r *Runner) finish(result *tasks.Result, runErr error) error {
	if result == nil || result.Summary == nil {
		return runErr
	}

	report, err := r.report(result.BatchID)
	if err != nil {
		return errors.Join(runErr, err)
	}
	r.writePlain("\n")
	if err := r.writeBytes(formatter.ExportToText(report)); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if result.Paused {
		return fmt.Errorf("%w: %s", errBatchPaused, result.Reason)
	}
	return nil
}

func (r *Runner) report(batchID string) (*formatter.Report, error) {
	summary, err := r.journal.Summary(batchID)
	if err != nil {
		return nil, err
	}
	list, err := r.journal.Tasks(batchID)
	if err != nil {
		return nil, err
	}
	return &formatter.Report{Summary: summary, Tasks: list}, nil
}

// BatchRun decomposes a source into a batch and executes it.
func (r *Runner) BatchRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	command := cmd.String("command")
	source := cmd.String("source")
	opts := r.options(cmd)

	r.logger.Info("starting batch", "command", command, "source", source, "dry_run", opts.DryRun)

	progress, stop := r.watch()
	result, err := r.engine.Run(ctx, command, source, opts, progress)
	stop()

	if opts.DryRun {
		if result != nil {
			r.writeBytes(formatter.PlansToText(result.Plans))
		}
		return err
	}

	if result != nil && result.BatchID != "" {
		r.writePlain("Batch %s\n", result.BatchID)
	}
	return r.finish(result, err)
}

// BatchResume continues a named batch, or the newest unfinished one.
func (r *Runner) BatchResume(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	batchID := cmd.String("batch")
	if batchID == "" {
		latest, err := r.journal.LatestIncomplete(cmd.String("command"))
		if err != nil {
			return err
		}
		batchID = latest.ID
	}

	r.logger.Info("resuming batch", "batch", batchID)

	progress, stop := r.watch()
	result, err := r.engine.Resume(ctx, batchID, r.options(cmd), progress)
	stop()

	return r.finish(result, err)
}

// BatchStatus reports a batch in text, JSON or CSV, optionally to a file.
func (r *Runner) BatchStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	batchID := cmd.String("batch")
	if batchID == "" {
		latest, err := r.journal.LatestIncomplete("")
		if err != nil {
			return err
		}
		batchID = latest.ID
	}

	report, err := r.report(batchID)
	if err != nil {
		return err
	}

	format := cmd.String("format")
	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteReport(report, format, path); err != nil {
			return err
		}
		r.logger.Info("report written", "batch", batchID, "path", path)
		return r.writePlain("Report written to %s\n", path)
	}

	data, err := formatter.Export(report, format)
	if err != nil {
		return err
	}
	if err := r.writeBytes(data); err != nil {
		return err
	}

	if f, _ := formatter.ParseFormat(format); f == formatter.FormatText {
		switches, err := repositories.NewSwitchRepository(r.db).List(batchID)
		if err != nil {
			return err
		}
		if len(switches) > 0 {
			r.writePlain("\nCredential switches:\n")
			for _, s := range switches {
				to := s.ToProject
				if !s.Found() {
					to = "(none available)"
				}
				r.writePlain("  %s  %s -> %s  %s\n", s.CreatedAt.Format(time.DateTime), s.FromProject, to, s.Reason)
			}
		}
	}
	return nil
}

// BatchList lists journaled batches, newest first.
func (r *Runner) BatchList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	list, err := r.journal.Batches()
	if cmd.Bool("incomplete") {
		list, err = r.journal.IncompleteBatches(cmd.String("command"))
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type row struct {
			ID        string    `json:"id"`
			Command   string    `json:"command"`
			Source    string    `json:"source"`
			Total     int       `json:"total"`
			Completed int       `json:"completed"`
			Failed    int       `json:"failed"`
			Paused    bool      `json:"paused"`
			Complete  bool      `json:"complete"`
			CreatedAt time.Time `json:"created_at"`
		}
		rows := make([]row, 0, len(list))
		for _, b := range list {
			rows = append(rows, row{b.ID, b.Command, b.Source, b.TotalTasks, b.CompletedTasks, b.FailedTasks, b.IsPaused, b.IsComplete, b.CreatedAt})
		}
		return r.writeJSON(rows, true)
	}

	if len(list) == 0 {
		return r.writePlain("No batches.\n")
	}
	for _, b := range list {
		state := "running"
		switch {
		case b.IsComplete:
			state = formatter.OK("complete")
		case b.IsPaused:
			state = formatter.Warn("paused")
		}
		r.writePlain("%s  %-5s %3d/%-3d failed %-3d %s  %s\n",
			b.ID, b.Command, b.Finished(), b.TotalTasks, b.FailedTasks, state, b.Source)
	}
	return nil
}

// BatchCleanup deletes completed batches older than --older-than.
func (r *Runner) BatchCleanup(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	removed, err := r.journal.Cleanup(cmd.Duration("older-than"))
	if err != nil {
		return err
	}
	r.logger.Info("cleanup complete", "removed", removed)
	return r.writePlain("Removed %d completed batches\n", removed)
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		projectFlag(false),
		&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Quota group to draw credentials from"},
		&cli.StringFlag{Name: "env", Usage: "Only use projects in this environment"},
		&cli.DurationFlag{Name: "delay", Usage: "Interval between write calls (default from config)"},
		&cli.BoolFlag{Name: "fallback-read", Usage: "Read through the Data API (costs quota) when extraction fails"},
	}
}

func batchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Run, resume and inspect journaled batches",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Start a new batch",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "command",
						Usage:    "copy, sync, or apply",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"s"},
						Usage:    "Playlist ID, file of playlist IDs, or desired-state document",
						Required: true,
					},
					&cli.BoolFlag{Name: "dry-run", Usage: "Show the writes and quota cost without changing anything"},
				}, selectionFlags()...),
				Action: r.BatchRun,
			},
			{
				Name:  "resume",
				Usage: "Resume a paused or interrupted batch",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "batch", Aliases: []string{"b"}, Usage: "Batch ID (default: newest unfinished)"},
					&cli.StringFlag{Name: "command", Usage: "Pick the newest unfinished batch of this command"},
					&cli.BoolFlag{Name: "skip-failed", Usage: "Skip failed tasks instead of retrying them"},
				}, selectionFlags()...),
				Action: r.BatchResume,
			},
			{
				Name:  "status",
				Usage: "Report a batch",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "batch", Aliases: []string{"b"}, Usage: "Batch ID (default: newest unfinished)"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "text, json, or csv", Value: formatter.FormatText},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the report to this file"},
				},
				Action: r.BatchStatus,
			},
			{
				Name:  "list",
				Usage: "List batches",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "incomplete", Usage: "Only unfinished batches"},
					&cli.StringFlag{Name: "command", Usage: "With --incomplete, only this command"},
					&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
				},
				Action: r.BatchList,
			},
			{
				Name:  "cleanup",
				Usage: "Delete completed batches",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "Minimum age since completion", Value: 30 * 24 * time.Hour},
				},
				Action: r.BatchCleanup,
			},
		},
	}
}
