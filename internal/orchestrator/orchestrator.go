// Package orchestrator runs the requested modules one after another in
// dependency order and collects their outcomes.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
	"github.com/livinlefevreloca/catalogsync/internal/syncer"
)

// Orchestrator executes module syncers sequentially
type Orchestrator struct {
	factory  *syncer.Factory
	policy   Policy
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger
	newRunID func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder stores every run's outcomes through r
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithRunIDs overrides run ID generation
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = next
	}
}

// NewOrchestrator creates an orchestrator over factory
func NewOrchestrator(factory *syncer.Factory, policy Policy, clock clockwork.Clock, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factory:  factory,
		policy:   policy,
		clock:    clock,
		logger:   logger.With("component", "orchestrator"),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run resolves requested into modules and syncs each in dependency order.
// An invalid selection returns a *module.UsageError before any client is
// created. Module failures never produce an error here; they are reported
// in the outcomes, use Failed to check for them.
func (o *Orchestrator) Run(ctx context.Context, requested []string) ([]RunOutcome, error) {
	modules, err := module.Resolve(requested)
	if err != nil {
		return nil, err
	}

	runID := o.newRunID()
	logger := o.logger.With("run_id", runID)
	logger.Debug("starting run", "modules", len(modules), "policy", o.policy.String())

	outcomes := make([]RunOutcome, 0, len(modules))
	for i, m := range modules {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, skipRemaining(modules[i:], err, o.clock.Now())...)
			break
		}

		outcome := o.runModule(ctx, m)
		outcomes = append(outcomes, outcome)

		if outcome.Status != StatusFailed {
			continue
		}

		logger.Error("module sync failed",
			"module", m.String(),
			"error", outcome.Err,
			"processed", outcome.Statistics.Processed,
			"duration", outcome.Duration)

		if o.policy == PolicyHalt {
			outcomes = append(outcomes, skipRemaining(modules[i+1:], nil, o.clock.Now())...)
			break
		}
	}

	o.record(ctx, logger, runID, outcomes)
	return outcomes, nil
}

func (o *Orchestrator) runModule(ctx context.Context, m module.Module) RunOutcome {
	outcome := RunOutcome{
		Module:    m,
		StartedAt: o.clock.Now(),
	}

	s, err := o.factory.Lookup(ctx, m)
	if err == nil {
		outcome.Statistics, err = s.Sync(ctx)
	}

	outcome.Duration = o.clock.Since(outcome.StartedAt)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}

	outcome.Status = StatusSucceeded
	return outcome
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, runID string, outcomes []RunOutcome) {
	if o.recorder == nil || len(outcomes) == 0 {
		return
	}

	entries := make([]stats.RunEntry, len(outcomes))
	for i, out := range outcomes {
		entries[i] = stats.RunEntry{
			Module:     out.Module.String(),
			Status:     out.Status.String(),
			Statistics: out.Statistics,
			StartedAt:  out.StartedAt,
			Duration:   out.Duration,
			Err:        out.Err,
		}
	}

	// History is informational; a failure to store it does not fail the run.
	if err := o.recorder.WriteRun(context.WithoutCancel(ctx), runID, entries); err != nil {
		logger.Warn("failed to record run history", "error", err)
	}
}

func skipRemaining(modules []module.Module, cause error, at time.Time) []RunOutcome {
	outcomes := make([]RunOutcome, len(modules))
	for i, m := range modules {
		outcomes[i] = RunOutcome{Module: m, Status: StatusSkipped, Err: cause, StartedAt: at}
	}
	return outcomes
}

// Failed reports whether any outcome failed
func Failed(outcomes []RunOutcome) bool {
	for _, out := range outcomes {
		if out.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Count tallies outcomes by status
func Count(outcomes []RunOutcome) (succeeded, failed, skipped int) {
	for _, out := range outcomes {
		switch out.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}
