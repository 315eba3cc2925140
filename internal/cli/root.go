// Package cli implements the catalogsync command line.
package cli

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/catalogsync/internal/config"
	"github.com/livinlefevreloca/catalogsync/internal/module"
)

// RootOptions holds global flags and the environment shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	Fs    afero.Fs
	Clock clockwork.Clock
}

// NewRootCommand creates the root command. Running it without a subcommand
// performs a sync.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		Fs:    afero.NewOsFs(),
		Clock: clockwork.NewRealClock(),
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	syncOpts := &SyncOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "catalogsync",
		Short: "Synchronize catalog data between two projects",
		Long: fmt.Sprintf(`Synchronize catalog data from a source project into a target project.

Modules run one after another in dependency order and only resources changed
since the module's last successful sync are read. Valid modules: %v.

Example:
  catalogsync -c catalogsync.toml
  catalogsync -c catalogsync.toml -s types,categories -r nightly
  catalogsync -c catalogsync.toml -s product --full`, module.Names()),
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, syncOpts)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (TOML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.Flags().StringSliceVarP(&syncOpts.Modules, "sync", "s", []string{module.AllName}, "modules to sync, or all (repeatable, comma separated)")
	cmd.Flags().StringVarP(&syncOpts.RunnerName, "runner-name", "r", "", "runner name scoping the checkpoints")
	cmd.Flags().BoolVarP(&syncOpts.FullSync, "full", "f", false, "ignore checkpoints and sync every resource")
	cmd.Flags().StringVar(&syncOpts.FailurePolicy, "failure-policy", "", "continue or halt after a module fails")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	})

	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("unexpected argument %q for %s", args[0], cmd.CommandPath()))
	}
	return nil
}

// loadConfig reads the configuration file and applies the global flags
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.Fs, opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
