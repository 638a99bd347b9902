package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytq/internal/batch"
	"github.com/desertthunder/ytq/internal/journal"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/projects"
	"github.com/desertthunder/ytq/internal/quota"
	"github.com/desertthunder/ytq/internal/retry"
	"github.com/desertthunder/ytq/internal/services"
	"github.com/desertthunder/ytq/internal/shared"
)

const (
	DefaultDelay = 500 * time.Millisecond
	// MaxDelay caps the pacing interval after repeated rate limiting.
	MaxDelay = 30 * time.Second
)

// Connector returns the quota-costed client authorized as project.
type Connector func(ctx context.Context, project models.Project) (services.MutationAPI, error)

// Options control one run or resume.
type Options struct {
	Project      string        // force this credential
	Group        string        // quota group to select from
	Environment  string        // optional environment filter
	Delay        time.Duration // initial interval between write calls; zero disables pacing
	FallbackRead bool          // read through the API when extraction fails
	DryRun       bool          // plan only, no batch and no writes
	SkipFailed   bool          // on resume, skip FAILED tasks instead of retrying them
}

// Deps are the collaborators of an [Engine].
type Deps struct {
	Journal       *journal.Journal
	Tracker       *quota.Tracker
	Selector      *projects.Selector
	Extractor     services.Extractor
	Connect       Connector
	Policy        retry.Policy
	StopThreshold int
	LocksDir      string // empty disables credential leases
	Logger        *log.Logger
}

// Engine runs batches: it decomposes a source into tasks, journals them, and executes each
// through credential selection, extraction, diffing and quota-accounted writes.
type Engine struct {
	journal   *journal.Journal
	tracker   *quota.Tracker
	selector  *projects.Selector
	extractor services.Extractor
	connect   Connector
	policy    retry.Policy
	threshold int
	locksDir  string
	logger    *log.Logger
}

// Result is the outcome of a run or resume.
type Result struct {
	BatchID string
	Summary *journal.Summary
	Paused  bool
	Reason  string
	Plans   []Plan // dry runs only
}

// NewEngine creates an Engine.
func NewEngine(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	threshold := d.StopThreshold
	if threshold < 1 {
		threshold = batch.DefaultStopThreshold
	}
	policy := d.Policy
	if policy.MaxAttempts < 1 {
		policy = retry.DefaultPolicy()
	}

	return &Engine{
		journal:   d.Journal,
		tracker:   d.Tracker,
		selector:  d.Selector,
		extractor: d.Extractor,
		connect:   d.Connect,
		policy:    policy,
		threshold: threshold,
		locksDir:  d.LocksDir,
		logger:    logger,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run decomposes source into a new batch and executes it.
//
// With [Options.DryRun] nothing is journaled or written; the result carries one [Plan] per task.
func (e *Engine) Run(ctx context.Context, command, source string, opts Options, progress chan<- ProgressUpdate) (*Result, error) {
	if e.journal == nil || e.extractor == nil {
		return nil, fmt.Errorf("%w: engine not initialized", shared.ErrServiceUnavailable)
	}

	specs, err := Decompose(command, source)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		plans, err := e.Preview(ctx, command, source, specs)
		return &Result{Plans: plans}, err
	}

	batchID, err := e.journal.CreateBatch(command, source)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	for _, spec := range specs {
		if _, err := e.journal.AddTask(batchID, spec.SourceID, spec.SourceType, spec.TargetName); err != nil {
			return nil, fmt.Errorf("failed to add task: %w", err)
		}
	}

	e.logger.Info("batch created", "batch", batchID, "command", command, "tasks", len(specs))
	return e.execute(ctx, batchID, opts, progress)
}

// Resume clears a batch's pause, re-enters unfinished tasks and executes them in their original order.
func (e *Engine) Resume(ctx context.Context, batchID string, opts Options, progress chan<- ProgressUpdate) (*Result, error) {
	if e.journal == nil || e.extractor == nil {
		return nil, fmt.Errorf("%w: engine not initialized", shared.ErrServiceUnavailable)
	}

	b, err := e.journal.Resume(batchID, opts.SkipFailed)
	if err != nil {
		return nil, err
	}

	e.logger.Info("batch resumed", "batch", b.ID, "remaining", b.Remaining(), "skip_failed", opts.SkipFailed)
	return e.execute(ctx, b.ID, opts, progress)
}

func (e *Engine) execute(ctx context.Context, batchID string, opts Options, progress chan<- ProgressUpdate) (*Result, error) {
	b, err := e.journal.Batch(batchID)
	if err != nil {
		return nil, err
	}

	var desired *DesiredState
	if b.Command == CommandApply {
		if desired, err = LoadDesiredState(b.Source); err != nil {
			return nil, err
		}
	}

	tasks, err := e.journal.ResumableTasks(batchID)
	if err != nil {
		return nil, err
	}

	r := e.newRun(batchID, opts, desired, progress)
	defer r.release()

	var runErr error
	for i, task := range tasks {
		if task.Status != models.TaskPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.pause(i, len(tasks), "interrupted: "+err.Error())
			runErr = err
			break
		}

		stop, reason, err := r.process(ctx, i+1, len(tasks), task)
		if err != nil {
			if reason != "" {
				r.pause(i+1, len(tasks), reason)
			}
			runErr = err
			break
		}
		if stop {
			r.pause(i+1, len(tasks), reason)
			break
		}
	}

	result := &Result{BatchID: batchID}
	summary, err := e.journal.Summary(batchID)
	if err != nil {
		return result, errors.Join(runErr, err)
	}

	result.Summary = summary
	result.Paused = summary.Batch.IsPaused
	result.Reason = summary.Batch.PauseReason

	e.logger.Info("batch finished",
		"batch", batchID,
		"completed", summary.Batch.CompletedTasks,
		"failed", summary.Batch.FailedTasks,
		"skipped", summary.Batch.SkippedTasks,
		"units", summary.Batch.QuotaConsumed,
		"paused", result.Paused,
	)

	return result, runErr
}
