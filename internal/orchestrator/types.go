package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
)

// Policy decides what happens to the remaining modules after one fails
type Policy int

const (
	// PolicyContinue runs every remaining module regardless of failures
	PolicyContinue Policy = iota

	// PolicyHalt skips every module after the first failure
	PolicyHalt
)

func (p Policy) String() string {
	switch p {
	case PolicyContinue:
		return "continue"
	case PolicyHalt:
		return "halt"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "continue" or "halt". Empty means PolicyContinue.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return PolicyContinue, nil
	case "halt":
		return PolicyHalt, nil
	default:
		return 0, fmt.Errorf("invalid failure policy %q (must be continue or halt)", s)
	}
}

// Status is the result of one module within a run
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RunOutcome is the result of one module within a run
type RunOutcome struct {
	Module     module.Module
	Status     Status
	Statistics stats.Statistics
	Err        error
	StartedAt  time.Time
	Duration   time.Duration
}

// Recorder persists the outcomes of a run
type Recorder interface {
	WriteRun(ctx context.Context, runID string, entries []stats.RunEntry) error
}

// Config selects modules and the failure policy
type Config struct {
	Modules       []string `toml:"modules"`
	FailurePolicy string   `toml:"failure_policy"`
}

// DefaultConfig syncs every module and continues past failures
func DefaultConfig() Config {
	return Config{
		Modules:       []string{module.AllName},
		FailurePolicy: PolicyContinue.String(),
	}
}

// Validate checks the configuration. Module names are checked when a run
// starts so that a bad selection surfaces as a usage error.
func (c Config) Validate() error {
	_, err := ParsePolicy(c.FailurePolicy)
	return err
}
