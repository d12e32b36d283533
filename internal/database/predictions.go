package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeriesMetrics are the daily KPI columns exposed to the prediction service.
var SeriesMetrics = []string{
	"total_revenue",
	"total_orders",
	"unique_customers",
	"avg_order_value",
	"total_items_sold",
}

func validMetric(metric string) bool {
	for _, m := range SeriesMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

// DailySeries returns one metric of the daily KPI mart as a date-ordered series.
func (db *DB) DailySeries(ctx context.Context, metric string) ([]SeriesPoint, error) {
	if !validMetric(metric) {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT full_date, CAST("+metric+" AS REAL) FROM mart_daily_kpis ORDER BY date_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertForecasts writes forecasts keyed by (date, metric).
func (db *DB) UpsertForecasts(ctx context.Context, forecasts []Forecast) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO ml_forecast_daily
			(forecast_date, metric_name, predicted_value, lower_bound, upper_bound, model_name, model_version)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(forecast_date, metric_name) DO UPDATE SET
				predicted_value = excluded.predicted_value,
				lower_bound = excluded.lower_bound,
				upper_bound = excluded.upper_bound,
				model_name = excluded.model_name,
				model_version = excluded.model_version,
				created_at = datetime('now')`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range forecasts {
			if _, err := stmt.ExecContext(ctx, f.Date, f.Metric, f.Predicted, f.Lower, f.Upper,
				f.ModelName, f.ModelVersion); err != nil {
				return fmt.Errorf("upsert forecast %s/%s: %w", f.Date, f.Metric, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(forecasts), nil
}

// UpsertAnomalies writes anomalies keyed by (date, metric). The
// acknowledgement state of an existing anomaly is preserved.
func (db *DB) UpsertAnomalies(ctx context.Context, anomalies []Anomaly) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO ml_anomalies_daily
			(anomaly_date, metric_name, actual_value, expected_value, deviation_pct, z_score,
			anomaly_type, severity, is_weekend, business_interpretation, recommended_action)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(anomaly_date, metric_name) DO UPDATE SET
				actual_value = excluded.actual_value,
				expected_value = excluded.expected_value,
				deviation_pct = excluded.deviation_pct,
				z_score = excluded.z_score,
				anomaly_type = excluded.anomaly_type,
				severity = excluded.severity,
				is_weekend = excluded.is_weekend,
				business_interpretation = excluded.business_interpretation,
				recommended_action = excluded.recommended_action,
				updated_at = datetime('now')`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range anomalies {
			if _, err := stmt.ExecContext(ctx, a.Date, a.Metric, a.Actual, a.Expected, a.DeviationPct,
				a.ZScore, a.Type, a.Severity, boolToInt(a.IsWeekend), a.Interpretation, a.Action); err != nil {
				return fmt.Errorf("upsert anomaly %s/%s: %w", a.Date, a.Metric, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(anomalies), nil
}

// AcknowledgeAnomaly marks one anomaly as seen by an operator.
func (db *DB) AcknowledgeAnomaly(ctx context.Context, date, metric, by string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE ml_anomalies_daily
		SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?, updated_at = datetime('now')
		WHERE anomaly_date = ? AND metric_name = ?`,
		by, at.UTC().Format(TimeLayout), date, metric,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("anomaly %s/%s: %w", date, metric, ErrNotFound)
	}
	return nil
}

// ListActiveAnomalies returns unacknowledged anomalies on or after since,
// most severe first and then newest first.
func (db *DB) ListActiveAnomalies(ctx context.Context, since string) ([]Anomaly, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT anomaly_date, metric_name, actual_value, expected_value, deviation_pct, z_score,
		anomaly_type, severity, is_weekend, business_interpretation, recommended_action,
		acknowledged, acknowledged_by, acknowledged_at
		FROM ml_anomalies_daily
		WHERE acknowledged = 0 AND anomaly_date >= ?
		ORDER BY CASE severity
			WHEN 'critical' THEN 1 WHEN 'high' THEN 2 WHEN 'medium' THEN 3 ELSE 4 END,
			anomaly_date DESC, metric_name`, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.Date, &a.Metric, &a.Actual, &a.Expected, &a.DeviationPct, &a.ZScore,
			&a.Type, &a.Severity, &a.IsWeekend, &a.Interpretation, &a.Action,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListForecasts returns forecasts on or after from in date order.
func (db *DB) ListForecasts(ctx context.Context, from string) ([]Forecast, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT forecast_date, metric_name, predicted_value, lower_bound, upper_bound,
		model_name, model_version, created_at
		FROM ml_forecast_daily WHERE forecast_date >= ?
		ORDER BY forecast_date, metric_name`, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Forecast
	for rows.Next() {
		var f Forecast
		if err := rows.Scan(&f.Date, &f.Metric, &f.Predicted, &f.Lower, &f.Upper,
			&f.ModelName, &f.ModelVersion, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
