package resource

import "fmt"

// Config tunes how resources are read from the source project
type Config struct {
	PageSize int `toml:"page_size"`
}

// DefaultConfig returns the strategy defaults
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize > 500 {
		return fmt.Errorf("page_size must be between 1 and 500, got %d", c.PageSize)
	}
	return nil
}
