package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/shared"
)

// SetupDatabase creates the config file if missing, then opens the journal and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else if config, err := shared.LoadConfig(r.configPath); err == nil {
			r.config = config
		}
	}

	path := r.config.DatabasePath()
	r.logger.Info("initializing database", "path", path)

	if err := r.open(); err != nil {
		return err
	}

	r.logger.Info("setup complete", "database", path)
	return r.writePlain("Journal ready at %s\n", path)
}

// SetupConfig writes the configuration template.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", r.configPath)
	return r.writePlain("Config written to %s\nAdd a [[projects]] table per API credential, then run `ytq auth login --project NAME`.\n", r.configPath)
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and the journal database",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config if missing, open the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write the configuration template",
				Action: r.SetupConfig,
			},
		},
	}
}
