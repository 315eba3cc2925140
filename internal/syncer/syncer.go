// Package syncer runs a single module's sync pass: it derives the change
// window from the module's checkpoint, drives the module's strategy over that
// window and records a new checkpoint once every page has been applied.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/catalogsync/internal/checkpoint"
	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
)

// Syncer synchronizes one module between one source and one target project
type Syncer struct {
	module      module.Module
	strategy    Strategy
	checkpoints *checkpoint.Store
	ownerKey    string
	config      Config
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewSyncer creates a syncer for m. ownerKey identifies the source project
// and keys the module's checkpoint.
func NewSyncer(
	m module.Module,
	strategy Strategy,
	checkpoints *checkpoint.Store,
	ownerKey string,
	config Config,
	clock clockwork.Clock,
	logger *slog.Logger,
) (*Syncer, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown module %s", m)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%s: strategy is required", m)
	}
	if ownerKey == "" {
		return nil, fmt.Errorf("%s: owner key is required", m)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Syncer{
		module:      m,
		strategy:    strategy,
		checkpoints: checkpoints,
		ownerKey:    ownerKey,
		config:      config,
		clock:       clock,
		logger:      logger.With("component", "syncer", "module", m.String()),
	}, nil
}

// Module returns the module this syncer handles
func (s *Syncer) Module() module.Module {
	return s.module
}

// Sync runs one pass. On success exactly two INFO events are logged, one
// before the first page and one summary after the checkpoint is written.
// On failure no checkpoint is written and the error is returned together
// with whatever was counted up to that point.
func (s *Syncer) Sync(ctx context.Context) (stats.Statistics, error) {
	started := s.clock.Now()
	var total stats.Statistics

	window, err := s.window(ctx)
	if err != nil {
		return total, fmt.Errorf("%s: failed to read checkpoint: %w", s.module, err)
	}

	s.logger.Info("starting sync",
		"window", window.String(),
		"owner", s.ownerKey,
		"runner", checkpoint.NormalizeRunnerName(s.config.RunnerName))

	pages := 0
	for page, err := range s.strategy.FetchChanged(ctx, window) {
		if err != nil {
			return total, fmt.Errorf("%s: failed to fetch changes: %w", s.module, err)
		}

		batch, err := s.strategy.ApplyBatch(ctx, page)
		total.Add(batch)
		if err != nil {
			return total, fmt.Errorf("%s: failed to apply batch %d: %w", s.module, pages+1, err)
		}

		pages++
		s.logger.Debug("applied batch", "page", pages, "size", len(page), "processed", total.Processed)
	}

	if f, ok := s.strategy.(Flusher); ok {
		held, err := f.Flush(ctx)
		total.Add(held)
		if err != nil {
			return total, fmt.Errorf("%s: failed to apply held back resources: %w", s.module, err)
		}
	}

	anchor, err := s.checkpoints.CurrentAnchor(ctx, s.config.RunnerName)
	if err != nil {
		return total, fmt.Errorf("%s: failed to capture anchor: %w", s.module, err)
	}

	duration := s.clock.Since(started)
	total.Finalize(s.module.Plural())

	_, err = s.checkpoints.CreateRecord(ctx, s.ownerKey, s.module.CheckpointName(), s.config.RunnerName, checkpoint.Record{
		Timestamp:      anchor,
		Statistics:     total,
		DurationMillis: duration.Milliseconds(),
	})
	if err != nil {
		return total, fmt.Errorf("%s: failed to write checkpoint: %w", s.module, err)
	}

	s.logger.Info(total.ReportMessage,
		"processed", total.Processed,
		"created", total.Created,
		"updated", total.Updated,
		"unchanged", total.Unchanged(),
		"failed", total.Failed,
		"pages", pages,
		"duration", duration,
		"checkpoint", anchor)

	return total, nil
}

// window computes the change window from the stored checkpoint
func (s *Syncer) window(ctx context.Context) (TimeWindow, error) {
	if s.config.FullSync {
		return TimeWindow{}, nil
	}

	rec, err := s.checkpoints.LastRecord(ctx, s.ownerKey, s.module.CheckpointName(), s.config.RunnerName)
	if err != nil {
		return TimeWindow{}, err
	}
	if rec == nil {
		return TimeWindow{}, nil
	}

	return TimeWindow{Start: rec.Timestamp.Add(-checkpoint.SkewBuffer)}, nil
}
