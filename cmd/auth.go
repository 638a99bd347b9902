package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/server"
	"github.com/desertthunder/ytq/internal/services"
	"github.com/desertthunder/ytq/internal/shared"
)

// AuthLogin runs the OAuth code flow for one project and stores its token.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	p, err := r.project(cmd.String("project"))
	if err != nil {
		return err
	}

	flow := &server.Flow{
		Config:  services.OAuthConfig(p, r.config.YouTube.RedirectURI),
		Project: p.Name,
		Open: func(authURL string) error {
			r.writePlain("Opening browser to authorize %s...\n", p.Name)
			return r.openBrowser(authURL)
		},
		Prompt: func(authURL string) {
			r.writePlain("Could not open a browser. Open this URL to continue:\n%s\n\n", authURL)
		},
		Timeout: cmd.Duration("timeout"),
		Logger:  r.logger,
	}

	token, err := flow.Run(ctx)
	if err != nil {
		return err
	}

	if err := services.SaveToken(p.TokenPath, token); err != nil {
		return err
	}

	r.logger.Info("token saved", "project", p.Name, "path", p.TokenPath)
	return r.writePlain("Authorized %s, token saved to %s\n", p.Name, p.TokenPath)
}

// AuthImport copies a token file obtained elsewhere, optionally waiting for it to appear.
func (r *Runner) AuthImport(ctx context.Context, cmd *cli.Command) error {
	p, err := r.project(cmd.String("project"))
	if err != nil {
		return err
	}

	file := shared.ExpandHome(cmd.String("file"))
	if file == "" {
		return fmt.Errorf("%w: --file", shared.ErrMissingArgument)
	}

	if wait := cmd.Duration("wait"); wait > 0 {
		r.writePlain("Waiting up to %s for %s...\n", wait, file)
		if err := shared.WaitForFile(ctx, file, wait, 500*time.Millisecond); err != nil {
			return err
		}
	}

	token, err := services.LoadToken(file)
	if err != nil {
		return err
	}
	if err := services.SaveToken(p.TokenPath, token); err != nil {
		return err
	}

	r.logger.Info("token imported", "project", p.Name, "from", file)
	return r.writePlain("Imported token for %s into %s\n", p.Name, p.TokenPath)
}

type tokenStatus struct {
	Project string    `json:"project"`
	Path    string    `json:"path"`
	Present bool      `json:"present"`
	Refresh bool      `json:"refreshable"`
	Expiry  time.Time `json:"expiry,omitzero"`
	Error   string    `json:"error,omitempty"`
}

// AuthStatus reports which projects have a stored token.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	var rows []tokenStatus
	for _, p := range r.projectList() {
		row := tokenStatus{Project: p.Name, Path: p.TokenPath}
		token, err := services.LoadToken(p.TokenPath)
		if err != nil {
			row.Error = err.Error()
		} else {
			row.Present = true
			row.Refresh = token.RefreshToken != ""
			row.Expiry = token.Expiry
		}
		rows = append(rows, row)
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, true)
	}

	if len(rows) == 0 {
		return r.writePlain("No projects configured.\n")
	}
	for _, row := range rows {
		switch {
		case !row.Present:
			r.writePlain("%-20s missing (%s)\n", row.Project, row.Path)
		case row.Refresh:
			r.writePlain("%-20s ok, refreshable\n", row.Project)
		default:
			r.writePlain("%-20s ok, expires %s\n", row.Project, row.Expiry.Format(time.RFC3339))
		}
	}
	return nil
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage per-project OAuth tokens",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize a project in the browser",
				Flags: []cli.Flag{
					projectFlag(true),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: server.DefaultLoginTimeout,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "import",
				Usage: "Import a token JSON file for a project",
				Flags: []cli.Flag{
					projectFlag(true),
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Token file to import",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "Wait up to this long for the file to appear",
					},
				},
				Action: r.AuthImport,
			},
			{
				Name:  "status",
				Usage: "Show which projects have stored tokens",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

func projectFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project name from config",
		Required: required,
	}
}
