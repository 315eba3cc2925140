package syncer

import (
	"fmt"
	"strings"

	"github.com/livinlefevreloca/catalogsync/internal/checkpoint"
)

// Config defines how syncers identify and use their checkpoints
type Config struct {
	// Distinguishes checkpoints of independently scheduled runs against the
	// same projects. Empty means the default runner.
	RunnerName string `toml:"runner_name"`

	// Prefix of every checkpoint container
	Namespace string `toml:"namespace"`

	// Ignore stored checkpoints when computing the window. Checkpoints are
	// still written on success.
	FullSync bool `toml:"full_sync"`
}

// DefaultConfig returns the syncer configuration defaults
func DefaultConfig() Config {
	return Config{
		Namespace: checkpoint.DefaultNamespace,
	}
}

// validateConfig validates syncer configuration and returns error if invalid
func validateConfig(config Config) error {
	if strings.Contains(config.RunnerName, ".") {
		return fmt.Errorf("RunnerName must not contain '.', got %q", config.RunnerName)
	}

	if strings.Contains(config.Namespace, ".") {
		return fmt.Errorf("Namespace must not contain '.', got %q", config.Namespace)
	}

	return nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	return validateConfig(c)
}
