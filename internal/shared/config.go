package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	State    StateConfig     `toml:"state"`
	Database DatabaseConfig  `toml:"database"`
	Quota    QuotaConfig     `toml:"quota"`
	Retry    RetryConfig     `toml:"retry"`
	Batch    BatchConfig     `toml:"batch"`
	YouTube  YouTubeConfig   `toml:"youtube"`
	Projects []ProjectConfig `toml:"projects"`
}

// StateConfig locates the per-user state directory (database, locks, tokens).
type StateConfig struct {
	Dir string `toml:"dir"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// QuotaConfig contains daily budget accounting settings.
type QuotaConfig struct {
	DailyBudget    int       `toml:"daily_budget"`
	WarnThresholds []float64 `toml:"warn_thresholds"`
	Timezone       string    `toml:"timezone"`
}

// RetryConfig contains backoff settings for quota-consuming calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	Jitter      Duration `toml:"jitter"`
}

// BatchConfig contains batch execution settings.
type BatchConfig struct {
	MaxRetries    int      `toml:"max_retries"`
	StopThreshold int      `toml:"stop_threshold"`
	Delay         Duration `toml:"delay"`
}

// YouTubeConfig contains endpoints for the read (proxy) and write (Data API) paths.
type YouTubeConfig struct {
	APIURL      string `toml:"api_url"`
	ProxyURL    string `toml:"proxy_url"`
	RedirectURI string `toml:"redirect_uri"`
}

// ProjectConfig describes one API credential ("project").
type ProjectConfig struct {
	Name         string `toml:"name"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenPath    string `toml:"token_path"`
	QuotaGroup   string `toml:"quota_group"`
	Environment  string `toml:"environment"`
	Priority     int    `toml:"priority"`
	DailyBudget  int    `toml:"daily_budget"`
}

// Duration wraps [time.Duration] so TOML values like "1s" decode.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file fall back to the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Projects = nil
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks project definitions for duplicate names and missing quota groups.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("%w: project #%d has no name", ErrInvalidConfig, i+1)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate project name %q", ErrInvalidConfig, name)
		}
		seen[name] = true

		if strings.TrimSpace(p.QuotaGroup) == "" {
			return fmt.Errorf("%w: project %q has no quota_group", ErrInvalidConfig, name)
		}
		if p.DailyBudget < 0 {
			return fmt.Errorf("%w: project %q has a negative daily_budget", ErrInvalidConfig, name)
		}
	}

	for _, t := range c.Quota.WarnThresholds {
		if t <= 0 || t > 1 {
			return fmt.Errorf("%w: warn threshold %v must be in (0, 1]", ErrInvalidConfig, t)
		}
	}

	return nil
}

// StatePath joins elem onto the state directory, expanding a leading "~".
func (c *Config) StatePath(elem ...string) string {
	dir := ExpandHome(c.State.Dir)
	return filepath.Join(append([]string{dir}, elem...)...)
}

// DatabasePath returns the configured database path, defaulting to ytq.db in the state directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path == "" {
		return c.StatePath("ytq.db")
	}
	if c.Database.Path == ":memory:" {
		return c.Database.Path
	}
	return ExpandHome(c.Database.Path)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
