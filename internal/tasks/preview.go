package tasks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/services"
)

const (
	previewWorkers = 4
	// previewRate limits extraction requests per second during a dry run.
	previewRate = 5
)

// Plan is the write set one task would perform.
type Plan struct {
	SourceID string
	TargetID string // empty when the task would create its playlist
	Create   bool
	Diff     diff.Diff
	Cost     int // quota units, including playlist creation
	Err      *failures.ClassifiedError
}

type previewJob struct {
	index int
	spec  TaskSpec
}

// Preview computes each task's write set through the zero-quota read path without writing anything.
//
// Reads run on a small worker pool with rate limiting; plans are returned in task order and a task
// whose reads fail carries the classified error instead of a diff.
func (e *Engine) Preview(ctx context.Context, command, source string, specs []TaskSpec) ([]Plan, error) {
	var desired *DesiredState
	if command == CommandApply {
		var err error
		if desired, err = LoadDesiredState(source); err != nil {
			return nil, err
		}
	}

	plans := make([]Plan, len(specs))
	limiter := rate.NewLimiter(rate.Limit(previewRate), 1)
	jobs := make(chan previewJob)

	var wg sync.WaitGroup
	for range min(previewWorkers, len(specs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				plans[job.index] = e.plan(ctx, limiter, command, job.spec, desired)
			}
		}()
	}

	var err error
	for i, spec := range specs {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- previewJob{index: i, spec: spec}
	}
	close(jobs)
	wg.Wait()

	return plans, err
}

func (e *Engine) plan(ctx context.Context, limiter *rate.Limiter, command string, spec TaskSpec, desired *DesiredState) Plan {
	p := Plan{SourceID: spec.SourceID}

	read := func(id string) (*models.PlaylistSnapshot, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return e.extractor.FetchPlaylist(ctx, id)
	}
	fail := func(err error) Plan {
		p.Err = failures.Classify(err)
		return p
	}

	var current, want models.PlaylistSnapshot
	switch command {
	case CommandCopy:
		src, err := read(spec.SourceID)
		if err != nil {
			return fail(err)
		}
		want = models.PlaylistSnapshot{Metadata: src.Metadata, Items: src.Items}
		if spec.TargetName != "" {
			want.Metadata.Title = spec.TargetName
		}
		current.Metadata = want.Metadata
		p.Create = true

	case CommandSync:
		src, err := read(spec.SourceID)
		if err != nil {
			return fail(err)
		}
		target, err := read(spec.TargetName)
		if err != nil {
			return fail(err)
		}
		current = *target
		want = models.PlaylistSnapshot{
			Metadata: models.Metadata{Description: target.Metadata.Description},
			Items:    src.Items,
		}
		p.TargetID = target.ID

	case CommandApply:
		entry, ok := desired.Find(spec.SourceID)
		if !ok {
			return fail(failures.New(failures.InvalidRequest, 0, "", fmt.Sprintf("%s is not in the desired state document", spec.SourceID), nil))
		}
		if entry.ID == "" {
			current.Metadata = entry.Metadata(models.Metadata{})
			p.Create = true
		} else {
			target, err := read(entry.ID)
			if err != nil {
				return fail(err)
			}
			current = *target
			p.TargetID = target.ID
		}
		want = entry.Snapshot(current.ID, current.Metadata)

	default:
		return fail(failures.New(failures.InvalidRequest, 0, "", fmt.Sprintf("unknown command %q", command), nil))
	}

	p.Diff = diff.Compute(current, want)
	p.Cost = p.Diff.Cost()
	if p.Create {
		p.Cost += services.CostCreatePlaylist
	}

	return p
}
