package database

import (
	"context"
	"time"
)

// ReplaceCleanRecords truncates staging and reloads it with recs.
func (db *DB) ReplaceCleanRecords(ctx context.Context, recs []CleanRecord) (int, error) {
	loadedAt := time.Now().UTC().Format(TimeLayout)
	return db.replaceTable(ctx, "stg_transactions_clean",
		`INSERT INTO stg_transactions_clean
		(clean_id, invoice_no, stock_code, description, quantity, invoice_date, unit_price,
		customer_id, country, line_total, is_cancelled, is_return, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(recs), func(i int) []any {
			r := recs[i]
			return []any{r.ID, r.InvoiceNo, r.StockCode, r.Description, r.Quantity,
				r.InvoiceDate.Format(TimeLayout), r.UnitPrice, r.CustomerID, r.Country,
				r.LineTotal, boolToInt(r.IsCancelled), boolToInt(r.IsReturn), loadedAt}
		})
}

// LoadCleanRecords returns the staging set ordered by clean_id.
func (db *DB) LoadCleanRecords(ctx context.Context) ([]CleanRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT clean_id, invoice_no, stock_code, description, quantity, invoice_date,
		unit_price, customer_id, country, line_total, is_cancelled, is_return, loaded_at
		FROM stg_transactions_clean ORDER BY clean_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []CleanRecord
	for rows.Next() {
		var r CleanRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.InvoiceNo, &r.StockCode, &r.Description, &r.Quantity,
			&ts, &r.UnitPrice, &r.CustomerID, &r.Country, &r.LineTotal,
			&r.IsCancelled, &r.IsReturn, &r.LoadedAt); err != nil {
			return nil, err
		}
		if r.InvoiceDate, err = time.Parse(TimeLayout, ts); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
