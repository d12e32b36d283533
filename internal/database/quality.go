package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertCheckResults appends the verdicts of one quality gate pass.
func (db *DB) InsertCheckResults(ctx context.Context, results []QualityCheckResult) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO quality_check_results
			(run_id, check_name, table_name, passed, severity, actual_value, expected_value, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range results {
			if _, err := stmt.ExecContext(ctx, r.RunID, r.Name, r.Table, boolToInt(r.Passed),
				string(r.Severity), r.Actual, r.Expected, r.CheckedAt); err != nil {
				return fmt.Errorf("insert check %s: %w", r.Name, err)
			}
		}
		return nil
	})
}

// ListCheckResults returns the checks recorded for a run in execution order.
func (db *DB) ListCheckResults(ctx context.Context, runID int64) ([]QualityCheckResult, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT check_id, run_id, check_name, table_name, passed, severity,
		COALESCE(actual_value, ''), COALESCE(expected_value, ''), checked_at
		FROM quality_check_results WHERE run_id = ? ORDER BY check_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QualityCheckResult
	for rows.Next() {
		var r QualityCheckResult
		var sev string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Name, &r.Table, &r.Passed, &sev,
			&r.Actual, &r.Expected, &r.CheckedAt); err != nil {
			return nil, err
		}
		r.Severity = Severity(sev)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountNullCustomers returns the number of staging rows without a customer.
func (db *DB) CountNullCustomers(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stg_transactions_clean WHERE customer_id IS NULL").Scan(&n)
	return n, err
}

// CountDuplicateGroups returns how many (invoice, product, quantity) groups
// occur more than once in staging.
func (db *DB) CountDuplicateGroups(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (
			SELECT 1 FROM stg_transactions_clean
			GROUP BY invoice_no, stock_code, quantity
			HAVING COUNT(*) > 1
		)`).Scan(&n)
	return n, err
}

// KPIDateRange returns the first and last date of the daily KPI mart.
// Both are nil when the mart is empty.
func (db *DB) KPIDateRange(ctx context.Context) (first, last *string, err error) {
	err = db.conn.QueryRowContext(ctx,
		"SELECT MIN(full_date), MAX(full_date) FROM mart_daily_kpis").Scan(&first, &last)
	return first, last, err
}

// CountOrphanDateFacts returns the number of facts whose date key is not in dim_date.
func (db *DB) CountOrphanDateFacts(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fact_sales f
		LEFT JOIN dim_date d ON d.date_key = f.date_key
		WHERE d.date_key IS NULL`).Scan(&n)
	return n, err
}
