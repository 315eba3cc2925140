package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/catalogsync/internal/config"
	"github.com/livinlefevreloca/catalogsync/internal/db"
	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/orchestrator"
	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/project"
	"github.com/livinlefevreloca/catalogsync/internal/resource"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
	"github.com/livinlefevreloca/catalogsync/internal/syncer"
)

// SyncOptions holds flags for a sync run.
type SyncOptions struct {
	*RootOptions
	Modules       []string
	RunnerName    string
	FullSync      bool
	FailurePolicy string
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	// Flags override the file
	flags := cmd.Flags()
	if flags.Changed("sync") {
		cfg.Sync.Modules = opts.Modules
	}
	if flags.Changed("runner-name") {
		cfg.Sync.RunnerName = opts.RunnerName
	}
	if flags.Changed("full") {
		cfg.Sync.FullSync = opts.FullSync
	}
	if flags.Changed("failure-policy") {
		cfg.Sync.FailurePolicy = opts.FailurePolicy
	}

	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if _, err := module.Resolve(cfg.Sync.Modules); err != nil {
		return WrapExitError(ExitCommandError, "invalid module selection", err)
	}
	policy, err := orchestrator.ParsePolicy(cfg.Sync.FailurePolicy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger, cleanup, err := config.SetupLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projects := &projectSet{clock: opts.Clock, logger: logger}
	defer projects.Close()

	factory := syncer.NewFactory(
		projects.provider(cfg.Source),
		projects.provider(cfg.Target),
		opts.Clock,
		resource.Builders(cfg.Sync.Resource()),
		cfg.Sync.Syncer(),
		logger,
	)

	var orchOpts []orchestrator.Option
	if cfg.History.Enabled {
		history, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: cfg.History.DSN})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open run history", err)
		}
		defer history.Close()
		orchOpts = append(orchOpts, orchestrator.WithRecorder(stats.NewHistoryWriter(history)))
	}

	logger.Debug("starting catalogsync",
		"source", cfg.Source.Key,
		"target", cfg.Target.Key,
		"modules", cfg.Sync.Modules,
		"runner", cfg.Sync.RunnerName,
		"full", cfg.Sync.FullSync)

	o := orchestrator.NewOrchestrator(factory, policy, opts.Clock, logger, orchOpts...)
	outcomes, err := o.Run(ctx, cfg.Sync.Modules)
	if module.IsUsageError(err) {
		return WrapExitError(ExitCommandError, "invalid module selection", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	if err := orchestrator.WriteReport(cmd.OutOrStdout(), outcomes); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}

	if err := ctx.Err(); err != nil {
		return WrapExitError(ExitFailure, "sync interrupted", err)
	}
	if orchestrator.Failed(outcomes) {
		_, failed, _ := orchestrator.Count(outcomes)
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d modules failed", failed, len(outcomes)))
	}
	return nil
}

// projectSet opens project databases on demand and closes them together
type projectSet struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	closers []func() error
}

func (s *projectSet) provider(cfg config.ProjectConfig) syncer.ClientProvider {
	return func(context.Context) (platform.Client, error) {
		p, closeDB, err := project.Open(cfg.Key, cfg.Config, s.clock, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, closeDB)
		return p, nil
	}
}

func (s *projectSet) Close() {
	for _, closeDB := range s.closers {
		if err := closeDB(); err != nil {
			s.logger.Warn("failed to close project database", "error", err)
		}
	}
}
