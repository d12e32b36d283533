// Package predict is the boundary to the external forecasting service: it
// serves the daily KPI series, stores forecasts and anomalies written back,
// and triggers retraining.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Tables written back by the prediction service.
const (
	ForecastTable = "ml_forecast_daily"
	AnomalyTable  = "ml_anomalies_daily"
)

// ErrInvalidRecord is returned when a written-back record fails validation.
var ErrInvalidRecord = errors.New("invalid prediction record")

var (
	anomalyTypes = map[string]bool{"spike": true, "drop": true}
	severities   = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
)

// Store reads and writes the prediction tables.
type Store struct {
	db       *database.DB
	recorder *lineage.Recorder
	log      *zap.Logger
	now      func() time.Time
}

// NewStore creates a prediction store. Writes are recorded on the freshness index.
func NewStore(db *database.DB, recorder *lineage.Recorder, log *zap.Logger) *Store {
	return &Store{db: db, recorder: recorder, log: logging.OrNop(log).Named("predict"), now: time.Now}
}

// DailySeries returns one daily KPI metric as a date-ordered series.
func (s *Store) DailySeries(ctx context.Context, metric string) ([]database.SeriesPoint, error) {
	if !knownMetric(metric) {
		return nil, fmt.Errorf("metric %q: %w", metric, ErrInvalidRecord)
	}
	return s.db.DailySeries(ctx, metric)
}

// SaveForecasts upserts forecasts by (date, metric).
func (s *Store) SaveForecasts(ctx context.Context, forecasts []database.Forecast) (int, error) {
	for _, f := range forecasts {
		if err := validateForecast(f); err != nil {
			return 0, err
		}
	}
	start := s.now()
	n, err := s.db.UpsertForecasts(ctx, forecasts)
	if err != nil {
		return 0, fmt.Errorf("saving forecasts: %w", err)
	}
	if err := s.recordWrite(ctx, ForecastTable, start); err != nil {
		return n, err
	}
	s.log.Info("forecasts saved", zap.Int("rows", n))
	return n, nil
}

// SaveAnomalies upserts anomalies by (date, metric), keeping acknowledgements.
func (s *Store) SaveAnomalies(ctx context.Context, anomalies []database.Anomaly) (int, error) {
	for _, a := range anomalies {
		if err := validateAnomaly(a); err != nil {
			return 0, err
		}
	}
	start := s.now()
	n, err := s.db.UpsertAnomalies(ctx, anomalies)
	if err != nil {
		return 0, fmt.Errorf("saving anomalies: %w", err)
	}
	if err := s.recordWrite(ctx, AnomalyTable, start); err != nil {
		return n, err
	}
	s.log.Info("anomalies saved", zap.Int("rows", n))
	return n, nil
}

// Acknowledge marks an anomaly as handled by an operator.
func (s *Store) Acknowledge(ctx context.Context, date, metric, by string) error {
	if by == "" {
		by = "operator"
	}
	if err := s.db.AcknowledgeAnomaly(ctx, date, metric, by, s.now()); err != nil {
		return fmt.Errorf("acknowledging anomaly: %w", err)
	}
	s.log.Info("anomaly acknowledged", zap.String("date", date), zap.String("metric", metric), zap.String("by", by))
	return nil
}

// ActiveAnomalies returns unacknowledged anomalies since the given date,
// most severe first.
func (s *Store) ActiveAnomalies(ctx context.Context, since string) ([]database.Anomaly, error) {
	return s.db.ListActiveAnomalies(ctx, since)
}

// LatestForecasts returns forecasts from the given date on.
func (s *Store) LatestForecasts(ctx context.Context, from string) ([]database.Forecast, error) {
	return s.db.ListForecasts(ctx, from)
}

// recordWrite stamps the table's freshness with its current row count.
func (s *Store) recordWrite(ctx context.Context, table string, start time.Time) error {
	rows, err := s.db.CountRows(ctx, table)
	if err != nil {
		return fmt.Errorf("counting %s: %w", table, err)
	}
	return s.recorder.RecordRefresh(ctx, table, rows, s.now().Sub(start), lineage.RefreshIncremental)
}

func knownMetric(metric string) bool {
	for _, m := range database.SeriesMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

func validateDate(d string) error {
	if _, err := time.Parse(database.DateLayout, d); err != nil {
		return fmt.Errorf("date %q: %w", d, ErrInvalidRecord)
	}
	return nil
}

func validateForecast(f database.Forecast) error {
	if err := validateDate(f.Date); err != nil {
		return err
	}
	if !knownMetric(f.Metric) {
		return fmt.Errorf("metric %q: %w", f.Metric, ErrInvalidRecord)
	}
	if f.Lower > f.Upper {
		return fmt.Errorf("forecast %s/%s bounds %.2f > %.2f: %w", f.Date, f.Metric, f.Lower, f.Upper, ErrInvalidRecord)
	}
	return nil
}

func validateAnomaly(a database.Anomaly) error {
	if err := validateDate(a.Date); err != nil {
		return err
	}
	if !knownMetric(a.Metric) {
		return fmt.Errorf("metric %q: %w", a.Metric, ErrInvalidRecord)
	}
	if !anomalyTypes[a.Type] {
		return fmt.Errorf("anomaly type %q: %w", a.Type, ErrInvalidRecord)
	}
	if !severities[a.Severity] {
		return fmt.Errorf("anomaly severity %q: %w", a.Severity, ErrInvalidRecord)
	}
	return nil
}
