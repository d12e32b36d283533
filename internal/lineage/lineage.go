// Package lineage records pipeline executions and answers freshness queries.
// Runs are append-only; the freshness index holds one overwritten marker per table.
package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Run types.
const (
	RunTypeFull        = "etl_full"
	RunTypeManualStage = "manual_stage"
	RunTypeManualDQ    = "manual_dq"
)

// Refresh types stored on freshness markers.
const (
	RefreshFull        = "full"
	RefreshIncremental = "incremental"
	RefreshManual      = "manual"
)

// FreshnessStatus is derived from the age of a table's last refresh.
type FreshnessStatus string

const (
	Fresh    FreshnessStatus = "fresh"
	Stale    FreshnessStatus = "stale"
	Outdated FreshnessStatus = "outdated"
)

// Windows bound the fresh and stale ages.
type Windows struct {
	FreshWithin time.Duration
	StaleWithin time.Duration
}

// DefaultWindows returns 6h fresh and 24h stale.
func DefaultWindows() Windows {
	return Windows{FreshWithin: 6 * time.Hour, StaleWithin: 24 * time.Hour}
}

// Classify maps a refresh age to its freshness status.
func Classify(age time.Duration, w Windows) FreshnessStatus {
	switch {
	case age < w.FreshWithin:
		return Fresh
	case age < w.StaleWithin:
		return Stale
	default:
		return Outdated
	}
}

// TableStatus is a freshness marker with its derived status.
type TableStatus struct {
	database.TableFreshness
	Status FreshnessStatus `json:"freshness_status"`
	Age    time.Duration   `json:"-"`
}

// Recorder writes the run log and the freshness index.
type Recorder struct {
	db      *database.DB
	windows Windows
	log     *zap.Logger
	now     func() time.Time
}

// New creates a run-lineage recorder.
func New(db *database.DB, windows Windows, log *zap.Logger) *Recorder {
	return &Recorder{db: db, windows: windows, log: logging.OrNop(log).Named("lineage"), now: time.Now}
}

// SetClock overrides the wall clock used for timestamps and freshness.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// BeginRun opens a run in the running state and returns its id and key.
func (r *Recorder) BeginRun(ctx context.Context, runType, sourceLabel string) (int64, string, error) {
	key := ulid.Make().String()
	var label *string
	if sourceLabel != "" {
		label = &sourceLabel
	}
	id, err := r.db.BeginRun(ctx, key, runType, label, r.now())
	if err != nil {
		return 0, "", fmt.Errorf("beginning run: %w", err)
	}
	r.log.Info("run started", zap.Int64("run_id", id), zap.String("run_key", key), zap.String("run_type", runType))
	return id, key, nil
}

// RecordStage upserts the freshness of table and credits the rows to the run.
func (r *Recorder) RecordStage(ctx context.Context, runID int64, table string, rows int, duration time.Duration, refreshType string) error {
	total, err := r.db.CountRows(ctx, table)
	if err != nil {
		return fmt.Errorf("counting %s: %w", table, err)
	}
	return r.record(ctx, database.StageRecord{
		RunID:       runID,
		Table:       table,
		Rows:        rows,
		TableRows:   total,
		DurationMs:  duration.Milliseconds(),
		RefreshType: refreshType,
	})
}

// RecordRefresh upserts the freshness of a table refreshed outside any run,
// such as an ingest batch or prediction write-back. rows is the table's
// current size.
func (r *Recorder) RecordRefresh(ctx context.Context, table string, rows int, duration time.Duration, refreshType string) error {
	return r.record(ctx, database.StageRecord{
		Table:       table,
		Rows:        rows,
		TableRows:   rows,
		DurationMs:  duration.Milliseconds(),
		RefreshType: refreshType,
	})
}

func (r *Recorder) record(ctx context.Context, rec database.StageRecord) error {
	rec.At = r.now()
	if err := r.db.RecordStage(ctx, rec); err != nil {
		return fmt.Errorf("recording stage %s: %w", rec.Table, err)
	}
	return nil
}

// CompleteRun closes a run with summary metadata encoded as JSON.
func (r *Recorder) CompleteRun(ctx context.Context, runID int64, metadata any) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding run metadata: %w", err)
	}
	if err := r.db.CompleteRun(ctx, runID, string(data), r.now()); err != nil {
		return fmt.Errorf("completing run %d: %w", runID, err)
	}
	r.log.Info("run completed", zap.Int64("run_id", runID))
	return nil
}

// FailRun closes a run as failed.
func (r *Recorder) FailRun(ctx context.Context, runID int64, message string) error {
	if err := r.db.FailRun(ctx, runID, message, r.now()); err != nil {
		return fmt.Errorf("failing run %d: %w", runID, err)
	}
	r.log.Error("run failed", zap.Int64("run_id", runID), zap.String("error", message))
	return nil
}

// Freshness returns every tracked table with its status computed now.
func (r *Recorder) Freshness(ctx context.Context) ([]TableStatus, error) {
	markers, err := r.db.ListFreshness(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing freshness: %w", err)
	}
	now := r.now().UTC()
	out := make([]TableStatus, 0, len(markers))
	for _, m := range markers {
		refreshed, err := time.Parse(database.TimeLayout, m.LastRefreshAt)
		if err != nil {
			return nil, fmt.Errorf("table %s refresh time: %w", m.Table, err)
		}
		age := now.Sub(refreshed)
		out = append(out, TableStatus{TableFreshness: m, Status: Classify(age, r.windows), Age: age})
	}
	return out, nil
}
