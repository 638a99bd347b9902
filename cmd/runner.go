package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/journal"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/projects"
	"github.com/desertthunder/ytq/internal/quota"
	"github.com/desertthunder/ytq/internal/repositories"
	"github.com/desertthunder/ytq/internal/retry"
	"github.com/desertthunder/ytq/internal/services"
	"github.com/desertthunder/ytq/internal/shared"
	"github.com/desertthunder/ytq/internal/tasks"
)

const defaultConfigPath = "config.toml"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// State-backed collaborators (journal, quota tracker, selector, engine) are built on first use by [Runner.open].
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	openBrowser func(string) error

	db        *sql.DB
	journal   *journal.Journal
	tracker   *quota.Tracker
	selector  *projects.Selector
	extractor services.Extractor
	connect   tasks.Connector
	engine    *tasks.Engine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(string) error
	// DB, Extractor and Connect replace the configured database, proxy and Data API clients.
	DB        *sql.DB
	Extractor services.Extractor
	Connect   tasks.Connector
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		openBrowser: opts.OpenBrowser,
		db:          opts.DB,
		extractor:   opts.Extractor,
		connect:     opts.Connect,
	}
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "ytq",
		Usage:   "Quota-aware YouTube playlist batches",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, projectsCommand, quotaCommand, batchCommand, playlistCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the configuration file when it exists.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if path == "" {
		path = defaultConfigPath
	}
	r.configPath = path

	if _, err := os.Stat(path); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", path)
		return ctx, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	r.config = config
	return ctx, nil
}

// projectList returns the configured projects with token paths defaulted into the state directory.
func (r *Runner) projectList() []models.Project {
	list := projects.FromConfig(r.config.Projects)
	for i := range list {
		if list[i].TokenPath == "" {
			list[i].TokenPath = r.config.StatePath("tokens", list[i].Name+".json")
		}
	}
	return list
}

func (r *Runner) project(name string) (models.Project, error) {
	list := r.projectList()
	if len(list) == 0 {
		return models.Project{}, fmt.Errorf("%w: no [[projects]] in %s", shared.ErrMissingConfig, r.configPath)
	}
	for _, p := range list {
		if p.Name == name {
			return p, nil
		}
	}
	return models.Project{}, fmt.Errorf("%w: %q", shared.ErrUnknownProject, name)
}

// open builds the state-backed collaborators once.
func (r *Runner) open() error {
	if r.engine != nil {
		return nil
	}

	if r.db == nil {
		db, err := shared.OpenJournal(r.config)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		r.db = db
	} else if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	list := r.projectList()
	tracker, err := quota.NewTracker(repositories.NewQuotaRepository(r.db), list, r.config.Quota, r.logger)
	if err != nil {
		return err
	}

	r.tracker = tracker
	r.journal = journal.New(r.db, r.config.Batch.MaxRetries)
	r.selector = projects.NewSelector(list, tracker, repositories.NewSwitchRepository(r.db), r.logger)

	if r.extractor == nil {
		r.extractor = services.NewProxyExtractor(r.config.YouTube.ProxyURL, r.httpClient)
	}
	if r.connect == nil {
		r.connect = r.connectProject
	}

	r.engine = tasks.NewEngine(tasks.Deps{
		Journal:       r.journal,
		Tracker:       r.tracker,
		Selector:      r.selector,
		Extractor:     r.extractor,
		Connect:       r.connect,
		Policy:        retry.FromConfig(r.config.Retry),
		StopThreshold: r.config.Batch.StopThreshold,
		LocksDir:      r.config.StatePath("locks"),
		Logger:        r.logger,
	})

	return nil
}

// connectProject builds a Data API client authorized with the project's stored token.
func (r *Runner) connectProject(ctx context.Context, p models.Project) (services.MutationAPI, error) {
	client, err := services.HTTPClient(ctx, p, r.config.YouTube.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.Name, err)
	}
	return services.NewYouTubeClient(r.config.YouTube.APIURL, client, shared.WithLogger(r.logger, "project", p.Name)), nil
}

// Close releases the database.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
