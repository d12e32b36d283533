package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRunTerminal is returned when mutating a run that already finished.
	ErrRunTerminal = errors.New("pipeline run already completed")
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("not found")
)

// StageRecord is the outcome of one refreshed table.
// RunID zero records freshness without attributing it to a run.
// Rows is credited to the run; TableRows is the table's size after the refresh.
type StageRecord struct {
	RunID       int64
	Table       string
	Rows        int
	TableRows   int
	DurationMs  int64
	RefreshType string
	At          time.Time
}

// BeginRun inserts a new run in the running state and returns its id.
func (db *DB) BeginRun(ctx context.Context, key, runType string, sourceLabel *string, startedAt time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_key, run_type, source_label, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, runType, sourceLabel, string(RunRunning), startedAt.UTC().Format(TimeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordStage upserts the freshness marker of a table and, when attributed
// to a run, bumps that run's stage and row counters.
func (db *DB) RecordStage(ctx context.Context, rec StageRecord) error {
	refreshType := rec.RefreshType
	if refreshType == "" {
		refreshType = "full"
	}
	var runID *int64
	if rec.RunID != 0 {
		runID = &rec.RunID
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_freshness
			(table_name, last_refresh_at, refresh_run_id, row_count, duration_ms, refresh_type)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(table_name) DO UPDATE SET
				last_refresh_at = excluded.last_refresh_at,
				refresh_run_id = excluded.refresh_run_id,
				row_count = excluded.row_count,
				duration_ms = excluded.duration_ms,
				refresh_type = excluded.refresh_type`,
			rec.Table, rec.At.UTC().Format(TimeLayout), runID, rec.TableRows, rec.DurationMs, refreshType,
		); err != nil {
			return fmt.Errorf("upsert freshness %s: %w", rec.Table, err)
		}
		if runID == nil {
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE pipeline_runs
			SET stages_completed = stages_completed + 1, rows_processed = rows_processed + ?
			WHERE run_id = ? AND completed_at IS NULL`,
			rec.Rows, rec.RunID,
		)
		if err != nil {
			return err
		}
		return requireAffected(res, rec.RunID)
	})
}

// SetRunStatus changes the status of a run that is still in flight.
func (db *DB) SetRunStatus(ctx context.Context, runID int64, status RunStatus) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE pipeline_runs SET status = ? WHERE run_id = ? AND completed_at IS NULL",
		string(status), runID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, runID)
}

// CompleteRun closes a run. A run still marked running becomes success;
// a status already set by the quality gate is kept.
func (db *DB) CompleteRun(ctx context.Context, runID int64, metadata string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pipeline_runs
		SET status = CASE WHEN status = 'running' THEN 'success' ELSE status END,
			completed_at = ?, metadata = ?
		WHERE run_id = ? AND completed_at IS NULL`,
		at.UTC().Format(TimeLayout), metadata, runID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, runID)
}

// FailRun closes a run as failed with the given error message.
func (db *DB) FailRun(ctx context.Context, runID int64, message string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = 'failed', error_message = ?, completed_at = ?
		WHERE run_id = ? AND completed_at IS NULL`,
		message, at.UTC().Format(TimeLayout), runID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, runID)
}

func requireAffected(res sql.Result, runID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrRunTerminal)
	}
	return nil
}

const runColumns = `run_id, run_key, run_type, source_label, status, started_at, completed_at,
	stages_completed, rows_processed, error_message, metadata`

// GetRun returns a run by id, or nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, runID int64) (*PipelineRun, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// LatestRun returns the most recently started run, or nil if none exist.
func (db *DB) LatestRun(ctx context.Context) (*PipelineRun, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs ORDER BY run_id DESC LIMIT 1")
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs ORDER BY run_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*PipelineRun, error) {
	var r PipelineRun
	var status string
	if err := s.Scan(&r.ID, &r.Key, &r.Type, &r.SourceLabel, &status, &r.StartedAt,
		&r.CompletedAt, &r.StagesCompleted, &r.RowsProcessed, &r.ErrorMessage, &r.Metadata); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}

// ListFreshness returns every tracked table's refresh marker.
func (db *DB) ListFreshness(ctx context.Context) ([]TableFreshness, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT table_name, last_refresh_at, refresh_run_id, row_count, duration_ms, refresh_type
		FROM table_freshness ORDER BY table_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableFreshness
	for rows.Next() {
		var f TableFreshness
		if err := rows.Scan(&f.Table, &f.LastRefreshAt, &f.RefreshRunID, &f.RowCount,
			&f.DurationMs, &f.RefreshType); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
