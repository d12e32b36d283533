package database

import "context"

// ReplaceFactSales rebuilds fact_sales from the resolved lines.
func (db *DB) ReplaceFactSales(ctx context.Context, facts []FactSale) (int, error) {
	return db.replaceTable(ctx, "fact_sales",
		`INSERT INTO fact_sales
		(sales_key, invoice_no, date_key, customer_key, product_key, country_key,
		quantity, unit_price, line_total, is_cancelled, is_return, invoice_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(facts), func(i int) []any {
			f := facts[i]
			return []any{f.SalesKey, f.InvoiceNo, f.DateKey, f.CustomerKey, f.ProductKey, f.CountryKey,
				f.Quantity, f.UnitPrice, f.LineTotal, boolToInt(f.IsCancelled), boolToInt(f.IsReturn),
				f.InvoiceDate}
		})
}

// LoadFactLines returns every fact joined with its product, country and
// optional customer attributes, ordered by sales_key.
func (db *DB) LoadFactLines(ctx context.Context) ([]FactLine, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT f.sales_key, f.invoice_no, f.date_key, f.customer_key, f.product_key, f.country_key,
		f.quantity, f.unit_price, f.line_total, f.is_cancelled, f.is_return, f.invoice_date,
		substr(f.invoice_date, 1, 10), c.customer_id, p.stock_code, p.description, co.country_name
		FROM fact_sales f
		JOIN dim_product p ON p.product_key = f.product_key
		JOIN dim_country co ON co.country_key = f.country_key
		LEFT JOIN dim_customer c ON c.customer_key = f.customer_key
		ORDER BY f.sales_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FactLine
	for rows.Next() {
		var l FactLine
		if err := rows.Scan(&l.SalesKey, &l.InvoiceNo, &l.DateKey, &l.CustomerKey, &l.ProductKey,
			&l.CountryKey, &l.Quantity, &l.UnitPrice, &l.LineTotal, &l.IsCancelled, &l.IsReturn,
			&l.InvoiceDate, &l.FullDate, &l.CustomerID, &l.StockCode, &l.Description,
			&l.CountryName); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
