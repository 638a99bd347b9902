package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/ytq/internal/batch"
	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/journal"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/projects"
	"github.com/desertthunder/ytq/internal/retry"
	"github.com/desertthunder/ytq/internal/services"
	"github.com/desertthunder/ytq/internal/shared"
)

// run is the state of one sequential pass over a batch's tasks.
type run struct {
	*Engine

	batchID  string
	opts     Options
	desired  *DesiredState
	progress chan<- ProgressUpdate
	handler  *batch.Handler
	policy   retry.Policy
	limiter  *rate.Limiter
	delay    time.Duration
	logger   *log.Logger

	project models.Project
	api     services.MutationAPI
	lease   *shared.Lease
}

func (e *Engine) newRun(batchID string, opts Options, desired *DesiredState, progress chan<- ProgressUpdate) *run {
	delay := max(opts.Delay, 0)

	r := &run{
		Engine:   e,
		batchID:  batchID,
		opts:     opts,
		desired:  desired,
		progress: progress,
		handler:  batch.NewHandler(e.threshold),
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		delay:    delay,
		logger:   shared.WithLogger(e.logger, "batch", batchID),
	}

	r.policy = e.policy
	r.policy.Observer = func(a retry.Attempt) {
		r.logger.Warn("retrying call", "attempt", a.Number, "delay", a.Delay, "category", a.Err.Category, "error", a.Err.Message)
		if a.Err.Category == failures.RateLimited {
			r.slowDown()
		}
	}

	return r
}

// process executes one task. stop asks the caller to pause the batch with reason.
// A non-nil error means the journal or credential layer failed, not the task.
func (r *run) process(ctx context.Context, step, total int, task *models.Task) (stop bool, reason string, err error) {
	if err := r.ensure(); err != nil {
		if errors.Is(err, projects.ErrNoCredential) {
			return true, r.quotaReason(), nil
		}
		return false, fmt.Sprintf("no usable credential: %v", err), err
	}

	task, _, err = r.journal.UpdateTask(journal.TaskUpdate{
		ID:          task.ID,
		Status:      models.TaskInProgress,
		ProjectName: r.project.Name,
		TargetID:    r.knownTarget(task),
	})
	if err != nil {
		return false, "", err
	}

	sendProgress(r.progress, readStateUpdate(step, total, task))

	units := 0
	var ce *failures.ClassifiedError
	for {
		spent, err := r.perform(ctx, step, total, task)
		units += spent
		ce = failures.Classify(err)
		if ce == nil || ce.Category != failures.QuotaExceeded {
			break
		}

		from := r.project.Name
		replacement, err := r.selector.HandleExhaustion(r.batchID, r.project)
		if err != nil {
			r.logger.Error("failed to record context switch", "error", err)
		}
		if replacement == nil {
			break
		}
		if err := r.switchTo(*replacement); err != nil {
			r.logger.Error("credential switch failed", "to", replacement.Name, "error", err)
			break
		}
		sendProgress(r.progress, switchUpdate(step, total, from, replacement.Name))
	}

	if ctx.Err() != nil {
		if _, _, err := r.journal.UpdateTask(journal.TaskUpdate{ID: task.ID, Status: models.TaskPending, QuotaConsumed: units}); err != nil {
			return false, "", err
		}
		return false, "interrupted: " + ctx.Err().Error(), ctx.Err()
	}

	update := journal.TaskUpdate{
		ID:            task.ID,
		Status:        models.TaskCompleted,
		QuotaConsumed: units,
		ProjectName:   r.project.Name,
	}
	if ce != nil {
		update.Status = models.TaskFailed
		update.Err = ce
	}

	task, b, err := r.journal.UpdateTask(update)
	if err != nil {
		return false, "", err
	}
	sendProgress(r.progress, taskFinishedUpdate(step, total, task))

	if ce == nil {
		r.logger.Info("task completed", "task", task.ID, "source", task.SourceID, "target", task.TargetID, "units", units)
		r.handler.Decide(task.ID, nil)
		return false, "", nil
	}

	r.logger.Warn("task failed",
		"task", task.ID,
		"source", task.SourceID,
		"category", ce.Category,
		"error", ce.Message,
		"remediation", ce.Remediation,
	)

	if r.handler.Decide(task.ID, ce) != batch.StopAll || b.IsComplete {
		return false, "", nil
	}

	switch ce.Category {
	case failures.QuotaExceeded:
		return true, r.quotaReason(), nil
	case failures.PermissionDenied:
		return true, fmt.Sprintf("%s on %s: %s. %s", ce.Category, task.SourceID, ce.Message, ce.Remediation), nil
	default:
		return true, fmt.Sprintf("%d consecutive failures, last %s on %s: %s", r.handler.Consecutive(), ce.Category, task.SourceID, ce.Message), nil
	}
}

func (r *run) quotaReason() string {
	group := r.opts.Group
	if r.project.QuotaGroup != "" {
		group = r.project.QuotaGroup
	}
	return fmt.Sprintf("daily quota exhausted for quota group %q; quota resets in %s",
		group, r.tracker.TimeUntilReset().Round(time.Minute))
}

func (r *run) pause(step, total int, reason string) {
	if err := r.journal.Pause(r.batchID, reason); err != nil {
		r.logger.Error("failed to pause batch", "error", err)
		return
	}
	r.logger.Warn("batch paused", "reason", reason, "resume", journal.ResumeCommand(r.batchID))
	sendProgress(r.progress, pausedUpdate(step, total, reason))
}

// knownTarget returns the target playlist a task names before any write.
func (r *run) knownTarget(task *models.Task) string {
	if task.TargetID != "" {
		return ""
	}
	switch task.Command {
	case CommandSync:
		return task.TargetName
	case CommandApply:
		if r.desired != nil {
			if entry, ok := r.desired.Find(task.SourceID); ok {
				return entry.ID
			}
		}
	}
	return ""
}

// ensure selects a credential when the run has none.
func (r *run) ensure() error {
	if r.api != nil {
		return nil
	}
	if r.selector == nil || r.connect == nil {
		return fmt.Errorf("%w: no credential selector", shared.ErrServiceUnavailable)
	}

	var (
		p   models.Project
		err error
	)
	if r.opts.Project != "" {
		p, err = r.selector.Force(r.opts.Project)
	} else {
		p, err = r.selector.Select(r.opts.Group, r.opts.Environment)
	}
	if err != nil {
		return err
	}

	return r.switchTo(p)
}

// switchTo takes the lease on p and connects to it, releasing the previous credential.
func (r *run) switchTo(p models.Project) error {
	var lease *shared.Lease
	if r.locksDir != "" {
		l, err := shared.AcquireLease(r.locksDir, p.Name, r.batchID)
		if err != nil {
			return err
		}
		lease = l
	}

	api, err := r.connect(context.Background(), p)
	if err != nil {
		lease.Release()
		return fmt.Errorf("failed to connect as %s: %w", p.Name, err)
	}

	r.release()
	r.project, r.api, r.lease = p, api, lease
	r.logger.Info("using credential", "project", p.Name, "group", p.QuotaGroup, "remaining", r.tracker.Remaining(p.Name))
	return nil
}

func (r *run) release() {
	if err := r.lease.Release(); err != nil {
		r.logger.Warn("failed to release credential lease", "project", r.project.Name, "error", err)
	}
	r.lease = nil
	r.api = nil
}

// slowDown doubles the pacing interval, up to [MaxDelay].
func (r *run) slowDown() {
	next := min(max(r.delay*2, time.Second), MaxDelay)
	if next == r.delay {
		return
	}
	r.delay = next
	r.limiter.SetLimit(rate.Every(next))
	r.logger.Warn("rate limited, slowing down", "delay", next)
}

// call runs one quota-costed request through the retry policy.
//
// estimate is checked against the remaining budget first; a call that cannot fit fails
// locally as QUOTA_EXCEEDED. op returns the units the provider charged, which are recorded
// for every attempt that got a response.
func (r *run) call(ctx context.Context, estimate int, op func(ctx context.Context, api services.MutationAPI) (int, error)) (int, error) {
	if r.tracker.WouldExceed(r.project.Name, estimate) {
		return 0, failures.New(failures.QuotaExceeded, 0, "localBudget",
			fmt.Sprintf("project %s has %d units left today, the call needs %d", r.project.Name, r.tracker.Remaining(r.project.Name), estimate), nil)
	}

	spent := 0
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		units, err := op(ctx, r.api)
		if services.Billable(err) {
			spent += units
			if rerr := r.tracker.Record(r.project.Name, units); rerr != nil {
				r.logger.Error("failed to record quota usage", "project", r.project.Name, "units", units, "error", rerr)
			}
		}
		return err
	})

	return spent, err
}

// read fetches a playlist through the extractor, falling back to the API when allowed.
func (r *run) read(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, int, error) {
	var snapshot *models.PlaylistSnapshot
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		s, err := r.extractor.FetchPlaylist(ctx, playlistID)
		snapshot = s
		return err
	})
	if err == nil {
		return snapshot, 0, nil
	}
	if !r.opts.FallbackRead || ctx.Err() != nil {
		return nil, 0, err
	}

	r.logger.Warn("extraction failed, reading through the API", "playlist", playlistID, "error", err)

	// The item count sizes the paged read so the budget check covers every page.
	var items int
	spent, err := r.call(ctx, services.CostList, func(ctx context.Context, api services.MutationAPI) (int, error) {
		n, err := api.PlaylistItemCount(ctx, playlistID)
		items = n
		return services.CostList, err
	})
	if err != nil {
		return nil, spent, err
	}

	more, err := r.call(ctx, services.FetchCost(items), func(ctx context.Context, api services.MutationAPI) (int, error) {
		s, pages, err := api.FetchPlaylist(ctx, playlistID)
		snapshot = s
		return pages, err
	})
	return snapshot, spent + more, err
}

// perform does the work of one task and returns the units it spent.
func (r *run) perform(ctx context.Context, step, total int, task *models.Task) (int, error) {
	switch task.Command {
	case CommandCopy:
		return r.copyPlaylist(ctx, step, total, task)
	case CommandSync:
		return r.syncPlaylist(ctx, step, total, task)
	case CommandApply:
		return r.applyDesired(ctx, step, total, task)
	default:
		return 0, failures.New(failures.InvalidRequest, 0, "", fmt.Sprintf("unknown command %q", task.Command), nil)
	}
}

func (r *run) copyPlaylist(ctx context.Context, step, total int, task *models.Task) (int, error) {
	src, units, err := r.read(ctx, task.SourceID)
	if err != nil {
		return units, err
	}

	meta := src.Metadata
	if task.TargetName != "" {
		meta.Title = task.TargetName
	}

	target, spent, err := r.target(ctx, task, meta)
	units += spent
	if err != nil {
		return units, err
	}

	desired := models.PlaylistSnapshot{ID: target.ID, Metadata: meta, Items: src.Items}
	spent, err = r.reconcile(ctx, step, total, *target, desired)
	return units + spent, err
}

func (r *run) syncPlaylist(ctx context.Context, step, total int, task *models.Task) (int, error) {
	src, units, err := r.read(ctx, task.SourceID)
	if err != nil {
		return units, err
	}

	current, spent, err := r.read(ctx, task.TargetID)
	units += spent
	if err != nil {
		return units, err
	}

	desired := models.PlaylistSnapshot{
		ID:       current.ID,
		Metadata: models.Metadata{Description: current.Metadata.Description},
		Items:    src.Items,
	}
	spent, err = r.reconcile(ctx, step, total, *current, desired)
	return units + spent, err
}

func (r *run) applyDesired(ctx context.Context, step, total int, task *models.Task) (int, error) {
	if r.desired == nil {
		return 0, failures.New(failures.InvalidRequest, 0, "", "no desired state loaded", nil)
	}
	entry, ok := r.desired.Find(task.SourceID)
	if !ok {
		return 0, failures.New(failures.InvalidRequest, 0, "", fmt.Sprintf("%s is no longer in the desired state document", task.SourceID), nil)
	}

	var (
		current *models.PlaylistSnapshot
		units   int
		err     error
	)
	if entry.ID == "" {
		current, units, err = r.target(ctx, task, entry.Metadata(models.Metadata{}))
	} else {
		current, units, err = r.read(ctx, entry.ID)
	}
	if err != nil {
		return units, err
	}

	spent, err := r.reconcile(ctx, step, total, *current, entry.Snapshot(current.ID, current.Metadata))
	return units + spent, err
}

// target returns the playlist a task writes into, creating it on first use.
// The new playlist ID is journaled immediately so a retry never creates a second one.
func (r *run) target(ctx context.Context, task *models.Task, meta models.Metadata) (*models.PlaylistSnapshot, int, error) {
	if task.TargetID != "" {
		return r.read(ctx, task.TargetID)
	}

	var id string
	spent, err := r.call(ctx, services.CostCreatePlaylist, func(ctx context.Context, api services.MutationAPI) (int, error) {
		var err error
		id, err = api.CreatePlaylist(ctx, meta)
		return services.CostCreatePlaylist, err
	})
	if err != nil {
		return nil, spent, err
	}

	if _, _, err := r.journal.UpdateTask(journal.TaskUpdate{ID: task.ID, Status: models.TaskInProgress, TargetID: id}); err != nil {
		return nil, spent, err
	}
	task.TargetID = id
	r.logger.Info("playlist created", "task", task.ID, "playlist", id, "title", meta.Title)

	return &models.PlaylistSnapshot{ID: id, Metadata: meta}, spent, nil
}

// reconcile writes the diff between current and desired.
func (r *run) reconcile(ctx context.Context, step, total int, current, desired models.PlaylistSnapshot) (int, error) {
	d := diff.Compute(current, desired)
	sendProgress(r.progress, planUpdate(step, total, d))
	if d.Empty() {
		return 0, nil
	}

	entries := make(map[string]string, len(current.Items))
	for _, item := range current.Items {
		if _, ok := entries[item.VideoID]; !ok {
			entries[item.VideoID] = item.EntryID
		}
	}

	units := 0
	write := func(cost int, op func(ctx context.Context, api services.MutationAPI) error) error {
		spent, err := r.call(ctx, cost, func(ctx context.Context, api services.MutationAPI) (int, error) {
			return cost, op(ctx, api)
		})
		units += spent
		return err
	}

	for _, item := range d.Additions {
		err := write(services.CostInsertItem, func(ctx context.Context, api services.MutationAPI) error {
			entryID, err := api.InsertItem(ctx, current.ID, item.VideoID, -1)
			if err == nil {
				entries[item.VideoID] = entryID
			}
			return err
		})
		if err != nil {
			return units, err
		}
	}

	for _, item := range d.Removals {
		if item.EntryID == "" {
			return units, failures.New(failures.InvalidRequest, 0, "missingEntryId",
				fmt.Sprintf("cannot remove %s from %s: the read path returned no entry id", item.VideoID, current.ID), nil)
		}
		err := write(services.CostRemoveItem, func(ctx context.Context, api services.MutationAPI) error {
			return api.RemoveItem(ctx, item.EntryID)
		})
		if err != nil {
			return units, err
		}
	}

	if len(d.Metadata) > 0 {
		meta := diff.Diff{Metadata: d.Metadata}.Apply(models.PlaylistSnapshot{Metadata: current.Metadata}).Metadata
		err := write(services.CostUpdateMetadata, func(ctx context.Context, api services.MutationAPI) error {
			return api.UpdateMetadata(ctx, current.ID, meta)
		})
		if err != nil {
			return units, err
		}
	}

	for _, move := range d.Reorders {
		item := move.Item
		item.EntryID = entries[item.VideoID]
		err := write(services.CostReorderItem, func(ctx context.Context, api services.MutationAPI) error {
			return api.ReorderItem(ctx, current.ID, item, move.Index)
		})
		if err != nil {
			return units, err
		}
	}

	return units, nil
}
