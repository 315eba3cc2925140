package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/catalogsync/internal/checkpoint"
	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/platform"
)

// Factory binds every module to a Syncer for one source/target pair. Client
// providers are called at most once, on the first lookup.
type Factory struct {
	source   ClientProvider
	target   ClientProvider
	clock    clockwork.Clock
	builders map[module.Module]StrategyBuilder
	config   Config
	logger   *slog.Logger

	resolved     bool
	resolveErr   error
	sourceClient platform.Client
	targetClient platform.Client
	syncers      map[module.Module]*Syncer
}

// NewFactory creates a factory. builders must contain a strategy builder for
// every module that will be looked up.
func NewFactory(
	source, target ClientProvider,
	clock clockwork.Clock,
	builders map[module.Module]StrategyBuilder,
	config Config,
	logger *slog.Logger,
) *Factory {
	return &Factory{
		source:   source,
		target:   target,
		clock:    clock,
		builders: builders,
		config:   config,
		logger:   logger,
		syncers:  make(map[module.Module]*Syncer),
	}
}

// Lookup returns the syncer for m, building it on first use
func (f *Factory) Lookup(ctx context.Context, m module.Module) (*Syncer, error) {
	if s, ok := f.syncers[m]; ok {
		return s, nil
	}

	if err := f.resolveClients(ctx); err != nil {
		return nil, err
	}

	build, ok := f.builders[m]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for module %s", m)
	}

	strategy, err := build(f.sourceClient, f.targetClient, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s strategy: %w", m, err)
	}

	checkpoints := checkpoint.NewStore(f.targetClient, f.config.Namespace, f.logger)
	s, err := NewSyncer(m, strategy, checkpoints, f.sourceClient.ProjectKey(), f.config, f.clock, f.logger)
	if err != nil {
		return nil, err
	}

	f.syncers[m] = s
	return s, nil
}

// All returns a syncer for every module in dependency order
func (f *Factory) All(ctx context.Context) ([]*Syncer, error) {
	syncers := make([]*Syncer, 0, len(module.All()))
	for _, m := range module.All() {
		s, err := f.Lookup(ctx, m)
		if err != nil {
			return nil, err
		}
		syncers = append(syncers, s)
	}
	return syncers, nil
}

func (f *Factory) resolveClients(ctx context.Context) error {
	if f.resolved {
		return f.resolveErr
	}
	f.resolved = true

	source, err := f.source(ctx)
	if err != nil {
		f.resolveErr = fmt.Errorf("failed to create source client: %w", err)
		return f.resolveErr
	}
	target, err := f.target(ctx)
	if err != nil {
		f.resolveErr = fmt.Errorf("failed to create target client: %w", err)
		return f.resolveErr
	}

	f.sourceClient = source
	f.targetClient = target
	return nil
}
