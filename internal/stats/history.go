package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/livinlefevreloca/catalogsync/internal/db"
)

// RunEntry is the outcome of one module within one orchestrator run
type RunEntry struct {
	Module     string
	Status     string
	Statistics Statistics
	StartedAt  time.Time
	Duration   time.Duration
	Err        error
}

// HistoryWriter persists run outcomes to the sync_runs table
type HistoryWriter struct {
	db *db.DB
}

// NewHistoryWriter creates a history writer over database
func NewHistoryWriter(database *db.DB) *HistoryWriter {
	return &HistoryWriter{db: database}
}

// WriteRun stores every entry of a run atomically
func (w *HistoryWriter) WriteRun(ctx context.Context, runID string, entries []RunEntry) error {
	runs := make([]*db.SyncRun, 0, len(entries))
	for _, e := range entries {
		run := &db.SyncRun{
			RunID:     runID,
			Module:    e.Module,
			Status:    e.Status,
			Processed: e.Statistics.Processed,
			Created:   e.Statistics.Created,
			Updated:   e.Statistics.Updated,
			Failed:    e.Statistics.Failed,
			StartedAt: e.StartedAt,
			Duration:  e.Duration,
		}
		if e.Err != nil {
			msg := e.Err.Error()
			run.Error = &msg
		}
		runs = append(runs, run)
	}

	if err := w.db.CreateSyncRuns(ctx, runs); err != nil {
		return fmt.Errorf("failed to write run %s: %w", runID, err)
	}
	return nil
}

// Recent returns the latest recorded module outcomes, newest first
func (w *HistoryWriter) Recent(ctx context.Context, limit int) ([]*db.SyncRun, error) {
	runs, err := w.db.ListRecentSyncRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
