package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateSyncRuns records the module outcomes of one orchestrator run
func (db *DB) CreateSyncRuns(ctx context.Context, runs []*SyncRun) error {
	if len(runs) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_runs (run_id, module, status, processed, created, updated, failed, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return db.WithTransaction(ctx, func(tx *Tx) error {
		for _, run := range runs {
			_, err := tx.ExecContext(ctx, query,
				run.RunID,
				run.Module,
				run.Status,
				run.Processed,
				run.Created,
				run.Updated,
				run.Failed,
				toUnixNano(run.StartedAt),
				run.Duration.Milliseconds(),
				run.Error,
			)
			if IsDuplicate(err) {
				return fmt.Errorf("%w: run %s module %s", ErrDuplicate, run.RunID, run.Module)
			}
			if err != nil {
				return fmt.Errorf("failed to record run %s module %s: %w", run.RunID, run.Module, err)
			}
		}
		return nil
	})
}

// GetSyncRuns retrieves every module outcome recorded for a run
func (db *DB) GetSyncRuns(ctx context.Context, runID string) ([]*SyncRun, error) {
	query := `
		SELECT run_id, module, status, processed, created, updated, failed, started_at, duration_ms, error
		FROM sync_runs
		WHERE run_id = ?
		ORDER BY started_at, rowid
	`

	runs, err := db.querySyncRuns(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs, nil
}

// ListRecentSyncRuns returns the most recently started module outcomes,
// newest first
func (db *DB) ListRecentSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	query := `
		SELECT run_id, module, status, processed, created, updated, failed, started_at, duration_ms, error
		FROM sync_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`
	return db.querySyncRuns(ctx, query, limit)
}

func (db *DB) querySyncRuns(ctx context.Context, query string, args ...any) ([]*SyncRun, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run := &SyncRun{}
		var startedAt, durationMs int64
		var runErr sql.NullString

		err := rows.Scan(
			&run.RunID,
			&run.Module,
			&run.Status,
			&run.Processed,
			&run.Created,
			&run.Updated,
			&run.Failed,
			&startedAt,
			&durationMs,
			&runErr,
		)
		if err != nil {
			return nil, err
		}

		run.StartedAt = fromUnixNano(startedAt)
		run.Duration = millis(durationMs)
		if runErr.Valid {
			run.Error = &runErr.String
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
