package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertDates adds any calendar day not yet present. Existing rows are never touched.
func (db *DB) InsertDates(ctx context.Context, days []DateDim) (int, error) {
	inserted := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO dim_date
			(date_key, full_date, year, quarter, month, month_name, week_of_year,
			day_of_month, day_of_week, day_name, is_weekend)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, d := range days {
			res, err := stmt.ExecContext(ctx, d.DateKey, d.FullDate, d.Year, d.Quarter, d.Month,
				d.MonthName, d.WeekOfYear, d.DayOfMonth, d.DayOfWeek, d.DayName, boolToInt(d.IsWeekend))
			if err != nil {
				return fmt.Errorf("insert date %s: %w", d.FullDate, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// UpsertCountries clears every country aggregate and then writes the given
// snapshot keyed by country name, in one transaction.
func (db *DB) UpsertCountries(ctx context.Context, countries []Country) (int, error) {
	return db.upsertDimension(ctx,
		`UPDATE dim_country SET total_customers = 0, total_orders = 0, total_revenue = 0,
		first_order_date = NULL, last_order_date = NULL`,
		`INSERT INTO dim_country
		(country_name, total_customers, total_orders, total_revenue, first_order_date, last_order_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(country_name) DO UPDATE SET
			total_customers = excluded.total_customers,
			total_orders = excluded.total_orders,
			total_revenue = excluded.total_revenue,
			first_order_date = excluded.first_order_date,
			last_order_date = excluded.last_order_date`,
		len(countries), func(i int) []any {
			c := countries[i]
			return []any{c.Name, c.TotalCustomers, c.TotalOrders, c.TotalRevenue, c.FirstOrderDate, c.LastOrderDate}
		})
}

// UpsertProducts clears every product aggregate and then writes the given
// snapshot keyed by stock code.
func (db *DB) UpsertProducts(ctx context.Context, products []Product) (int, error) {
	return db.upsertDimension(ctx,
		`UPDATE dim_product SET total_quantity = 0, total_orders = 0, total_revenue = 0,
		avg_unit_price = 0, first_sold_date = NULL, last_sold_date = NULL`,
		`INSERT INTO dim_product
		(stock_code, description, total_quantity, total_orders, total_revenue, avg_unit_price,
		first_sold_date, last_sold_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code) DO UPDATE SET
			description = excluded.description,
			total_quantity = excluded.total_quantity,
			total_orders = excluded.total_orders,
			total_revenue = excluded.total_revenue,
			avg_unit_price = excluded.avg_unit_price,
			first_sold_date = excluded.first_sold_date,
			last_sold_date = excluded.last_sold_date`,
		len(products), func(i int) []any {
			p := products[i]
			return []any{p.StockCode, p.Description, p.TotalQuantity, p.TotalOrders, p.TotalRevenue,
				p.AvgUnitPrice, p.FirstSoldDate, p.LastSoldDate}
		})
}

// UpsertCustomers clears every customer aggregate and then writes the given
// snapshot keyed by customer id. RFM columns are owned by the RFM mart.
func (db *DB) UpsertCustomers(ctx context.Context, customers []Customer) (int, error) {
	return db.upsertDimension(ctx,
		`UPDATE dim_customer SET total_orders = 0, total_items = 0, total_revenue = 0,
		first_purchase_date = NULL, last_purchase_date = NULL`,
		`INSERT INTO dim_customer
		(customer_id, country, total_orders, total_items, total_revenue,
		first_purchase_date, last_purchase_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			country = excluded.country,
			total_orders = excluded.total_orders,
			total_items = excluded.total_items,
			total_revenue = excluded.total_revenue,
			first_purchase_date = excluded.first_purchase_date,
			last_purchase_date = excluded.last_purchase_date`,
		len(customers), func(i int) []any {
			c := customers[i]
			return []any{c.CustomerID, c.Country, c.TotalOrders, c.TotalItems, c.TotalRevenue,
				c.FirstPurchaseDate, c.LastPurchaseDate}
		})
}

func (db *DB) upsertDimension(ctx context.Context, reset, upsert string, n int, args func(i int) []any) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, reset); err != nil {
			return fmt.Errorf("reset aggregates: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := 0; i < n; i++ {
			if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
				return fmt.Errorf("upsert row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CountryKeys maps country name to surrogate key.
func (db *DB) CountryKeys(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT country_name, country_key FROM dim_country")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var name string
		var key int64
		if err := rows.Scan(&name, &key); err != nil {
			return nil, err
		}
		keys[name] = key
	}
	return keys, rows.Err()
}

// ProductKeys maps stock code to surrogate key.
func (db *DB) ProductKeys(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT stock_code, product_key FROM dim_product")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var code string
		var key int64
		if err := rows.Scan(&code, &key); err != nil {
			return nil, err
		}
		keys[code] = key
	}
	return keys, rows.Err()
}

// CustomerKeys maps customer id to surrogate key.
func (db *DB) CustomerKeys(ctx context.Context) (map[int64]int64, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT customer_id, customer_key FROM dim_customer")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[int64]int64)
	for rows.Next() {
		var id, key int64
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		keys[id] = key
	}
	return keys, rows.Err()
}

// ListCountries returns the country dimension ordered by key.
func (db *DB) ListCountries(ctx context.Context) ([]Country, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT country_key, country_name, total_customers, total_orders, total_revenue,
		first_order_date, last_order_date
		FROM dim_country ORDER BY country_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Country
	for rows.Next() {
		var c Country
		if err := rows.Scan(&c.Key, &c.Name, &c.TotalCustomers, &c.TotalOrders, &c.TotalRevenue,
			&c.FirstOrderDate, &c.LastOrderDate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListProducts returns the product dimension ordered by key.
func (db *DB) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT product_key, stock_code, description, total_quantity, total_orders, total_revenue,
		avg_unit_price, first_sold_date, last_sold_date
		FROM dim_product ORDER BY product_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Key, &p.StockCode, &p.Description, &p.TotalQuantity, &p.TotalOrders,
			&p.TotalRevenue, &p.AvgUnitPrice, &p.FirstSoldDate, &p.LastSoldDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCustomers returns the customer dimension ordered by key.
func (db *DB) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT customer_key, customer_id, country, total_orders, total_items, total_revenue,
		first_purchase_date, last_purchase_date, r_score, f_score, m_score, rfm_segment
		FROM dim_customer ORDER BY customer_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.Key, &c.CustomerID, &c.Country, &c.TotalOrders, &c.TotalItems,
			&c.TotalRevenue, &c.FirstPurchaseDate, &c.LastPurchaseDate,
			&c.RScore, &c.FScore, &c.MScore, &c.Segment); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
