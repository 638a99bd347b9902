package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/formatter"
	"github.com/desertthunder/ytq/internal/services"
	"github.com/desertthunder/ytq/internal/shared"
)

type projectRow struct {
	Name        string `json:"name"`
	QuotaGroup  string `json:"quota_group"`
	Environment string `json:"environment,omitempty"`
	Priority    int    `json:"priority"`
	Budget      int    `json:"budget"`
	Used        int    `json:"used"`
	Remaining   int    `json:"remaining"`
}

// ProjectsList shows each configured project with today's remaining quota.
func (r *Runner) ProjectsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	var rows []projectRow
	for _, p := range r.selector.Projects() {
		rows = append(rows, projectRow{
			Name:        p.Name,
			QuotaGroup:  p.QuotaGroup,
			Environment: p.Environment,
			Priority:    p.Priority,
			Budget:      r.tracker.Budget(p.Name),
			Used:        r.tracker.Usage(p.Name).UnitsUsed,
			Remaining:   r.tracker.Remaining(p.Name),
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, true)
	}
	if len(rows) == 0 {
		return r.writePlain("No projects configured. Add [[projects]] tables to %s.\n", r.configPath)
	}

	r.writePlain("%s\n", formatter.Title(fmt.Sprintf("%-20s %-14s %-8s %4s %10s", "PROJECT", "GROUP", "ENV", "PRIO", "REMAINING")))
	for _, row := range rows {
		line := fmt.Sprintf("%-20s %-14s %-8s %4d %10d", row.Name, row.QuotaGroup, row.Environment, row.Priority, row.Remaining)
		if row.Remaining == 0 {
			line = formatter.Warn(line)
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// ProjectsPlaylists lists playlists owned by a project's account. It costs one unit per page.
func (r *Runner) ProjectsPlaylists(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	p, err := r.selector.Force(cmd.String("project"))
	if err != nil {
		return err
	}

	api, err := r.connect(ctx, p)
	if err != nil {
		return err
	}

	playlists, units, err := api.ListOwnedPlaylists(ctx)
	if services.Billable(err) && units > 0 {
		if rerr := r.tracker.Record(p.Name, units); rerr != nil {
			r.logger.Warn("failed to record quota", "project", p.Name, "error", rerr)
		}
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, true)
	}
	for _, pl := range playlists {
		r.writePlain("%-36s %-9s %4d  %s\n", pl.ID, pl.Visibility, pl.ItemCount, pl.Title)
	}
	return r.writePlain("%d playlists, %d quota units\n", len(playlists), units)
}

type quotaRow struct {
	Project   string    `json:"project"`
	Group     string    `json:"quota_group"`
	Day       string    `json:"day"`
	Used      int       `json:"used"`
	Budget    int       `json:"budget"`
	Remaining int       `json:"remaining"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// QuotaStatus shows today's usage per project and the time until the daily reset.
func (r *Runner) QuotaStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	var rows []quotaRow
	for _, p := range r.selector.Projects() {
		usage := r.tracker.Usage(p.Name)
		rows = append(rows, quotaRow{
			Project:   p.Name,
			Group:     p.QuotaGroup,
			Day:       r.tracker.Day(),
			Used:      usage.UnitsUsed,
			Budget:    r.tracker.Budget(p.Name),
			Remaining: r.tracker.Remaining(p.Name),
			UpdatedAt: usage.UpdatedAt,
		})
	}

	reset := r.tracker.TimeUntilReset().Round(time.Minute)
	if cmd.Bool("json") {
		return r.writeJSON(struct {
			Projects     []quotaRow `json:"projects"`
			ResetSeconds float64    `json:"reset_in_seconds"`
		}{rows, reset.Seconds()}, true)
	}

	r.writePlain("%s\n", formatter.Title("Quota day "+r.tracker.Day()))
	for _, row := range rows {
		pct := 0.0
		if row.Budget > 0 {
			pct = float64(row.Used) / float64(row.Budget) * 100
		}
		line := fmt.Sprintf("%-20s %-14s %6d / %-6d (%.0f%%)", row.Project, row.Group, row.Used, row.Budget, pct)
		switch {
		case row.Remaining == 0:
			line = formatter.Err(line)
		case pct >= 80:
			line = formatter.Warn(line)
		}
		r.writePlain("%s\n", line)
	}
	return r.writePlain("Quota resets in %s (midnight Pacific time)\n", reset)
}

// ProjectsUnlock removes a project's credential lease, for claims the automatic reclaim cannot judge.
func (r *Runner) ProjectsUnlock(ctx context.Context, cmd *cli.Command) error {
	p, err := r.project(cmd.String("project"))
	if err != nil {
		return err
	}
	if err := shared.BreakLease(r.config.StatePath("locks"), p.Name); err != nil {
		return err
	}
	r.logger.Warn("credential lease removed", "project", p.Name)
	return r.writePlain("Unlocked %s\n", p.Name)
}

func projectsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "Inspect configured API credentials",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List projects with group, environment, priority and remaining quota",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Output as JSON"}},
				Action: r.ProjectsList,
			},
			{
				Name:  "playlists",
				Usage: "List playlists owned by a project's account (costs quota)",
				Flags: []cli.Flag{
					projectFlag(true),
					&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
				},
				Action: r.ProjectsPlaylists,
			},
			{
				Name:   "unlock",
				Usage:  "Remove a leftover credential lease (only when no batch is running)",
				Flags:  []cli.Flag{projectFlag(true)},
				Action: r.ProjectsUnlock,
			},
		},
	}
}

func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Daily quota accounting",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show per-project usage today and time until reset",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Output as JSON"}},
				Action: r.QuotaStatus,
			},
		},
	}
}
