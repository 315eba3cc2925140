package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/catalogsync/internal/db"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently recorded module runs",
		Long: `List the most recent module outcomes stored in the run history database,
newest first. Requires [history] enabled = true in the configuration.

Example:
  catalogsync history -c catalogsync.toml --limit 10`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of module runs to list")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("limit must be positive, got %d", opts.Limit))
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return NewExitError(ExitCommandError, "run history is disabled")
	}

	database, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: cfg.History.DSN})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open run history", err)
	}
	defer database.Close()

	runs, err := stats.NewHistoryWriter(database).Recent(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read run history", err)
	}

	if err := writeHistory(cmd.OutOrStdout(), runs); err != nil {
		return WrapExitError(ExitFailure, "failed to write history", err)
	}
	return nil
}

func writeHistory(w io.Writer, runs []*db.SyncRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	const row = "%-36s %-16s %-10s %9v %8v %8v %7v  %-20s %s\n"
	if _, err := fmt.Fprintf(w, row, "RUN", "MODULE", "STATUS", "PROCESSED", "CREATED", "UPDATED", "FAILED", "STARTED", "DURATION"); err != nil {
		return err
	}

	for _, run := range runs {
		_, err := fmt.Fprintf(w, row,
			run.RunID,
			run.Module,
			run.Status,
			run.Processed,
			run.Created,
			run.Updated,
			run.Failed,
			run.StartedAt.Format(time.DateTime),
			run.Duration,
		)
		if err != nil {
			return err
		}
		if run.Error != nil {
			if _, err := fmt.Fprintf(w, "  error: %s\n", *run.Error); err != nil {
				return err
			}
		}
	}
	return nil
}
