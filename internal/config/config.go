package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/livinlefevreloca/catalogsync/internal/db"
	"github.com/livinlefevreloca/catalogsync/internal/orchestrator"
	"github.com/livinlefevreloca/catalogsync/internal/resource"
	"github.com/livinlefevreloca/catalogsync/internal/syncer"
)

// Config represents the application configuration
type Config struct {
	Source  ProjectConfig `toml:"source"`
	Target  ProjectConfig `toml:"target"`
	Sync    SyncConfig    `toml:"sync"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
}

// ProjectConfig identifies a project and the database holding it
type ProjectConfig struct {
	Key string `toml:"project_key"`
	db.Config
}

// SyncConfig holds the [sync] section, shared by the syncer, the
// orchestrator and the resource strategy
type SyncConfig struct {
	RunnerName    string   `toml:"runner_name"`
	Namespace     string   `toml:"namespace"`
	FullSync      bool     `toml:"full_sync"`
	Modules       []string `toml:"modules"`
	FailurePolicy string   `toml:"failure_policy"`
	PageSize      int      `toml:"page_size"`
}

// Syncer returns the syncer settings
func (c SyncConfig) Syncer() syncer.Config {
	return syncer.Config{
		RunnerName: c.RunnerName,
		Namespace:  c.Namespace,
		FullSync:   c.FullSync,
	}
}

// Orchestrator returns the orchestrator settings
func (c SyncConfig) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Modules:       c.Modules,
		FailurePolicy: c.FailurePolicy,
	}
}

// Resource returns the resource strategy settings
func (c SyncConfig) Resource() resource.Config {
	return resource.Config{PageSize: c.PageSize}
}

// HistoryConfig controls storage of run outcomes
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	sync := syncer.DefaultConfig()
	orch := orchestrator.DefaultConfig()

	return &Config{
		Source: ProjectConfig{
			Key:    "source",
			Config: defaultDatabase("source.db"),
		},
		Target: ProjectConfig{
			Key:    "target",
			Config: defaultDatabase("target.db"),
		},
		Sync: SyncConfig{
			RunnerName:    sync.RunnerName,
			Namespace:     sync.Namespace,
			FullSync:      sync.FullSync,
			Modules:       orch.Modules,
			FailurePolicy: orch.FailurePolicy,
			PageSize:      resource.DefaultConfig().PageSize,
		},
		History: HistoryConfig{
			Enabled: false,
			DSN:     "catalogsync-history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDatabase(dsn string) db.Config {
	return db.Config{
		Driver:          "sqlite3",
		DSN:             dsn,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromFile loads configuration from a TOML file on fs. Values missing
// from the file keep their defaults.
func LoadFromFile(fs afero.Fs, path string) (*Config, error) {
	config := DefaultConfig()

	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(fs afero.Fs, configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(fs, configPath)
}

// Validate checks if the configuration is valid. Module names are not
// checked here; they are resolved when the run starts.
func (c *Config) Validate() error {
	if err := validateProject("source", c.Source); err != nil {
		return err
	}
	if err := validateProject("target", c.Target); err != nil {
		return err
	}
	if c.Source.Key == c.Target.Key {
		return fmt.Errorf("source and target project keys must differ (both are %q)", c.Source.Key)
	}

	if err := c.Sync.Syncer().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Sync.Orchestrator().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Sync.Resource().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history dsn must be specified when history is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

func validateProject(name string, p ProjectConfig) error {
	if p.Key == "" {
		return fmt.Errorf("%s project_key must be specified", name)
	}
	if p.Driver == "" {
		return fmt.Errorf("%s database driver must be specified", name)
	}
	if p.Driver != "sqlite3" {
		return fmt.Errorf("unsupported %s database driver: %s (must be sqlite3)", name, p.Driver)
	}
	if p.DSN == "" {
		return fmt.Errorf("%s database DSN must be specified", name)
	}
	return nil
}
