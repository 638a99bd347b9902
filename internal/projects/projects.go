// Package projects selects which API credential a batch uses and substitutes
// a sibling credential from the same quota group when one runs out of quota.
package projects

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

// ErrNoCredential is returned when no project in the requested group has budget left.
var ErrNoCredential = errors.New("no credential with remaining quota")

// Quota is the subset of the quota tracker the selector needs.
type Quota interface {
	Remaining(project string) int
	MarkExhausted(project string) error
}

// SwitchRecorder persists context switches. Implemented by repositories.SwitchRepository.
type SwitchRecorder interface {
	Create(s *models.ContextSwitch) error
}

// Selector chooses credentials. It never crosses quota groups.
type Selector struct {
	projects []models.Project
	quota    Quota
	recorder SwitchRecorder
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	switches []models.ContextSwitch
}

// NewSelector creates a Selector over projects. recorder may be nil.
func NewSelector(projects []models.Project, quota Quota, recorder SwitchRecorder, logger *log.Logger) *Selector {
	sorted := append([]models.Project(nil), projects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})

	if logger == nil {
		logger = shared.DiscardLogger()
	}

	return &Selector{
		projects: sorted,
		quota:    quota,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// FromConfig converts the [[projects]] tables into models.
func FromConfig(cfgs []shared.ProjectConfig) []models.Project {
	out := make([]models.Project, len(cfgs))
	for i, c := range cfgs {
		out[i] = models.Project{
			Name:         c.Name,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenPath:    shared.ExpandHome(c.TokenPath),
			QuotaGroup:   c.QuotaGroup,
			Environment:  c.Environment,
			Priority:     c.Priority,
			DailyBudget:  c.DailyBudget,
		}
	}
	return out
}

// Projects returns every configured project in selection order.
func (s *Selector) Projects() []models.Project {
	return append([]models.Project(nil), s.projects...)
}

// Groups returns the distinct quota groups in selection order.
func (s *Selector) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, p := range s.projects {
		if !seen[p.QuotaGroup] {
			seen[p.QuotaGroup] = true
			groups = append(groups, p.QuotaGroup)
		}
	}
	return groups
}

// Select returns the preferred project in group with remaining quota.
//
// An empty environment matches any environment. An empty group is allowed only when
// every project shares one group.
func (s *Selector) Select(group, environment string) (models.Project, error) {
	if group == "" {
		groups := s.Groups()
		switch len(groups) {
		case 0:
			return models.Project{}, fmt.Errorf("%w: no projects configured", shared.ErrMissingCredentials)
		case 1:
			group = groups[0]
		default:
			return models.Project{}, fmt.Errorf("%w: several quota groups configured, pass --group", shared.ErrMissingArgument)
		}
	}

	for _, p := range s.projects {
		if p.QuotaGroup != group {
			continue
		}
		if environment != "" && p.Environment != environment {
			continue
		}
		if s.quota.Remaining(p.Name) > 0 {
			return p, nil
		}
	}

	return models.Project{}, fmt.Errorf("%w: group %q", ErrNoCredential, group)
}

// Force returns the named project regardless of priority or remaining quota.
func (s *Selector) Force(name string) (models.Project, error) {
	for _, p := range s.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return models.Project{}, fmt.Errorf("%w: %s", shared.ErrUnknownProject, name)
}

// HandleExhaustion marks current exhausted and looks for a sibling in the same quota group.
//
// The switch is recorded whether or not a replacement is found. A nil project with a nil
// error means the group has no budget left today.
func (s *Selector) HandleExhaustion(batchID string, current models.Project) (*models.Project, error) {
	if err := s.quota.MarkExhausted(current.Name); err != nil {
		s.logger.Error("failed to mark quota exhausted", "project", current.Name, "error", err)
	}

	var replacement *models.Project
	for _, p := range s.projects {
		if p.Name == current.Name || p.QuotaGroup != current.QuotaGroup {
			continue
		}
		if current.Environment != "" && p.Environment != current.Environment {
			continue
		}
		if s.quota.Remaining(p.Name) > 0 {
			found := p
			replacement = &found
			break
		}
	}

	sw := models.ContextSwitch{
		BatchID:     batchID,
		FromProject: current.Name,
		QuotaGroup:  current.QuotaGroup,
		Reason:      "quota exhausted",
		CreatedAt:   s.now(),
	}
	if replacement != nil {
		sw.ToProject = replacement.Name
		s.logger.Warn("switching credential", "batch", batchID, "from", current.Name, "to", replacement.Name, "group", current.QuotaGroup)
	} else {
		sw.Reason = "quota exhausted, no sibling with remaining quota"
		s.logger.Warn("no credential left in group", "batch", batchID, "from", current.Name, "group", current.QuotaGroup)
	}

	if s.recorder != nil {
		if err := s.recorder.Create(&sw); err != nil {
			return replacement, fmt.Errorf("failed to record context switch: %w", err)
		}
	}

	s.mu.Lock()
	s.switches = append(s.switches, sw)
	s.mu.Unlock()

	return replacement, nil
}

// Switches returns the switches recorded by this selector, oldest first.
func (s *Selector) Switches() []models.ContextSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ContextSwitch(nil), s.switches...)
}
