// Package quota tracks per-project daily quota consumption against the provider's budget.
//
// The provider resets every project's allowance at midnight in its own reference zone
// (America/Los_Angeles), so days are computed in that zone regardless of the host's zone.
package quota

import (
	"fmt"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

// DefaultTimezone is the zone the provider's daily reset is anchored to.
const DefaultTimezone = "America/Los_Angeles"

const dayLayout = "2006-01-02"

// Store persists consumption. Implemented by repositories.QuotaRepository.
type Store interface {
	Add(project, day string, units int, at time.Time) (int, error)
	Raise(project, day string, units int, at time.Time) (int, error)
	Get(project, day string) (models.QuotaRecord, error)
}

// Tracker answers "can this fit" questions and records consumption.
//
// Threshold warnings are logged once per project, day and threshold and never block.
type Tracker struct {
	store         Store
	loc           *time.Location
	defaultBudget int
	budgets       map[string]int
	thresholds    []float64
	logger        *log.Logger
	now           func() time.Time

	mu     sync.Mutex
	warned map[string]bool
}

// NewTracker creates a Tracker for the given projects using the quota section of the config.
func NewTracker(store Store, projects []models.Project, cfg shared.QuotaConfig, logger *log.Logger) (*Tracker, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", shared.ErrInvalidConfig, tz, err)
	}

	defaultBudget := cfg.DailyBudget
	if defaultBudget <= 0 {
		defaultBudget = models.DefaultDailyBudget
	}

	budgets := make(map[string]int, len(projects))
	for _, p := range projects {
		if p.DailyBudget > 0 {
			budgets[p.Name] = p.DailyBudget
		}
	}

	thresholds := append([]float64(nil), cfg.WarnThresholds...)
	sort.Float64s(thresholds)

	if logger == nil {
		logger = shared.DiscardLogger()
	}

	return &Tracker{
		store:         store,
		loc:           loc,
		defaultBudget: defaultBudget,
		budgets:       budgets,
		thresholds:    thresholds,
		logger:        logger,
		now:           time.Now,
		warned:        make(map[string]bool),
	}, nil
}

// SetClock replaces the tracker's time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Day returns the current provider day as YYYY-MM-DD.
func (t *Tracker) Day() string {
	return t.now().In(t.loc).Format(dayLayout)
}

// Budget returns the daily budget for project.
func (t *Tracker) Budget(project string) int {
	if b, ok := t.budgets[project]; ok {
		return b
	}
	return t.defaultBudget
}

// Usage returns today's record for project. Storage failures are logged and read as zero usage.
func (t *Tracker) Usage(project string) models.QuotaRecord {
	record, err := t.store.Get(project, t.Day())
	if err != nil {
		t.logger.Error("failed to read quota usage", "project", project, "error", err)
		return models.QuotaRecord{Project: project, Day: t.Day()}
	}
	return record
}

// Remaining returns today's unused units for project, never negative.
//
// A storage failure reports zero so that pre-flight checks refuse rather than overspend.
func (t *Tracker) Remaining(project string) int {
	record, err := t.store.Get(project, t.Day())
	if err != nil {
		t.logger.Error("failed to read quota usage", "project", project, "error", err)
		return 0
	}
	return max(0, t.Budget(project)-record.UnitsUsed)
}

// WouldExceed reports whether spending units now would go past today's budget.
func (t *Tracker) WouldExceed(project string, units int) bool {
	return t.Remaining(project) < units
}

// Record adds units to today's usage for project.
func (t *Tracker) Record(project string, units int) error {
	if units <= 0 {
		return nil
	}

	now := t.now()
	day := now.In(t.loc).Format(dayLayout)

	total, err := t.store.Add(project, day, units, now)
	if err != nil {
		return err
	}

	t.warn(project, day, total)
	return nil
}

// MarkExhausted raises today's usage for project to its budget.
//
// Used when the provider reports the quota as spent even though local accounting disagrees.
func (t *Tracker) MarkExhausted(project string) error {
	now := t.now()
	day := now.In(t.loc).Format(dayLayout)
	budget := t.Budget(project)

	if _, err := t.store.Raise(project, day, budget, now); err != nil {
		return err
	}

	t.logger.Warn("quota marked exhausted", "project", project, "day", day, "budget", budget)
	return nil
}

// TimeUntilReset returns the duration until the next midnight in the reference zone.
func (t *Tracker) TimeUntilReset() time.Duration {
	now := t.now()
	local := now.In(t.loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
	return next.Sub(now)
}

// NextReset returns the instant of the next reset.
func (t *Tracker) NextReset() time.Time {
	return t.now().Add(t.TimeUntilReset())
}

func (t *Tracker) warn(project, day string, used int) {
	budget := t.Budget(project)
	if budget <= 0 {
		return
	}
	ratio := float64(used) / float64(budget)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, threshold := range t.thresholds {
		if ratio < threshold {
			break
		}
		key := fmt.Sprintf("%s|%s|%g", project, day, threshold)
		if t.warned[key] {
			continue
		}
		t.warned[key] = true
		t.logger.Warn("quota threshold reached",
			"project", project,
			"used", used,
			"budget", budget,
			"threshold", fmt.Sprintf("%.0f%%", threshold*100),
		)
	}
}
