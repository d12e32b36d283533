package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertRawRecords loads ingested lines into raw_transactions. When replace
// is set the table is emptied first inside the same transaction.
func (db *DB) InsertRawRecords(ctx context.Context, recs []RawRecord, replace bool) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM raw_transactions"); err != nil {
				return fmt.Errorf("truncate raw_transactions: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO raw_transactions
			(invoice_no, stock_code, description, quantity, invoice_date, unit_price, customer_id, country)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range recs {
			if _, err := stmt.ExecContext(ctx, r.InvoiceNo, r.StockCode, r.Description,
				r.Quantity, r.InvoiceDate, r.UnitPrice, r.CustomerID, r.Country); err != nil {
				return fmt.Errorf("insert raw record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// LoadRawRecords returns every raw line ordered by raw_id.
func (db *DB) LoadRawRecords(ctx context.Context) ([]RawRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT raw_id, invoice_no, stock_code, description, quantity, invoice_date,
		unit_price, customer_id, country, loaded_at
		FROM raw_transactions ORDER BY raw_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RawRecord
	for rows.Next() {
		var r RawRecord
		if err := rows.Scan(&r.ID, &r.InvoiceNo, &r.StockCode, &r.Description, &r.Quantity,
			&r.InvoiceDate, &r.UnitPrice, &r.CustomerID, &r.Country, &r.LoadedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
