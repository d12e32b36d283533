// Package ingest lands retail transaction exports in raw_transactions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
)

// Table is the landing table written by the loader.
const Table = "raw_transactions"

// Mode selects how a batch lands.
type Mode string

const (
	// Replace truncates the landing table before loading.
	Replace Mode = "replace"
	// Append adds the batch to what is already landed.
	Append Mode = "append"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Replace, Append:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown ingest mode %q (want replace or append)", s)
}

// Source yields raw records one at a time and io.EOF when exhausted.
// ErrMalformed marks a row that was skipped.
type Source interface {
	Next() (database.RawRecord, error)
}

// ErrMalformed is returned by a Source for a row it could not read.
var ErrMalformed = errors.New("malformed row")

// Result holds the outcome of a load.
type Result struct {
	Rows      int
	Malformed int
}

// Loader writes sources into the landing table.
type Loader struct {
	db       *database.DB
	recorder *lineage.Recorder
	metrics  *metrics.Pipeline
	log      *zap.Logger
}

// NewLoader creates a loader. metrics may be nil.
func NewLoader(db *database.DB, recorder *lineage.Recorder, m *metrics.Pipeline, log *zap.Logger) *Loader {
	return &Loader{db: db, recorder: recorder, metrics: m, log: logging.OrNop(log).Named("ingest")}
}

// Load reads a CSV export from r and lands it.
func (l *Loader) Load(ctx context.Context, r io.Reader, mode Mode) (*Result, error) {
	src, err := NewCSVSource(r)
	if err != nil {
		return nil, err
	}
	return l.LoadSource(ctx, src, mode)
}

// LoadSource drains src and lands every readable record in one transaction.
func (l *Loader) LoadSource(ctx context.Context, src Source, mode Mode) (*Result, error) {
	start := time.Now()
	res := &Result{}

	var recs []database.RawRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrMalformed) {
			res.Malformed++
			l.log.Debug("skipping malformed row", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		recs = append(recs, rec)
	}

	n, err := l.db.InsertRawRecords(ctx, recs, mode == Replace)
	if err != nil {
		return nil, fmt.Errorf("landing raw records: %w", err)
	}
	res.Rows = n

	total, err := l.db.CountRows(ctx, Table)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", Table, err)
	}
	refresh := lineage.RefreshFull
	if mode == Append {
		refresh = lineage.RefreshIncremental
	}
	if err := l.recorder.RecordRefresh(ctx, Table, total, time.Since(start), refresh); err != nil {
		return nil, err
	}
	l.metrics.Ingested(n)

	l.log.Info("batch landed",
		zap.String("mode", string(mode)),
		zap.Int("rows", n),
		zap.Int("malformed", res.Malformed),
		zap.Int("table_rows", total),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
