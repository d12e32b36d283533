package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ReplaceDailyKPIs rebuilds mart_daily_kpis.
func (db *DB) ReplaceDailyKPIs(ctx context.Context, kpis []DailyKPI) (int, error) {
	return db.replaceTable(ctx, "mart_daily_kpis",
		`INSERT INTO mart_daily_kpis
		(date_key, full_date, total_revenue, total_orders, total_items_sold, unique_customers,
		avg_order_value, cancelled_orders, cancelled_revenue, return_orders, returned_items,
		cancellation_rate, return_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(kpis), func(i int) []any {
			k := kpis[i]
			return []any{k.DateKey, k.FullDate, k.TotalRevenue, k.TotalOrders, k.TotalItemsSold,
				k.UniqueCustomers, k.AvgOrderValue, k.CancelledOrders, k.CancelledRevenue,
				k.ReturnOrders, k.ReturnedItems, k.CancellationRate, k.ReturnRate}
		})
}

// ReplaceRFM rebuilds mart_rfm and writes the scores back onto dim_customer.
// Customers without a score get their RFM columns cleared.
func (db *DB) ReplaceRFM(ctx context.Context, scores []RFMScore) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := replaceRows(ctx, tx, "mart_rfm",
			`INSERT INTO mart_rfm
			(customer_key, customer_id, recency_days, frequency, monetary, avg_order_value,
			r_score, f_score, m_score, rfm_score, rfm_segment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			len(scores), func(i int) []any {
				s := scores[i]
				return []any{s.CustomerKey, s.CustomerID, s.RecencyDays, s.Frequency, s.Monetary,
					s.AvgOrderValue, s.R, s.F, s.M, s.Score, s.Segment}
			})
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE dim_customer SET r_score = NULL, f_score = NULL, m_score = NULL, rfm_segment = NULL`,
		); err != nil {
			return fmt.Errorf("reset customer scores: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE dim_customer SET r_score = ?, f_score = ?, m_score = ?, rfm_segment = ?
			WHERE customer_key = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range scores {
			if _, err := stmt.ExecContext(ctx, s.R, s.F, s.M, s.Segment, s.CustomerKey); err != nil {
				return fmt.Errorf("write back customer %d: %w", s.CustomerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(scores), nil
}

// ReplaceCountryPerformance rebuilds mart_country_performance.
func (db *DB) ReplaceCountryPerformance(ctx context.Context, rows []CountryPerformance) (int, error) {
	return db.replaceTable(ctx, "mart_country_performance",
		`INSERT INTO mart_country_performance
		(country_key, country_name, total_revenue, total_orders, total_customers, total_quantity,
		avg_order_value, revenue_share, order_share)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.CountryKey, r.CountryName, r.TotalRevenue, r.TotalOrders, r.TotalCustomers,
				r.TotalQuantity, r.AvgOrderValue, r.RevenueShare, r.OrderShare}
		})
}

// ReplaceProductPerformance rebuilds mart_product_performance.
func (db *DB) ReplaceProductPerformance(ctx context.Context, rows []ProductPerformance) (int, error) {
	return db.replaceTable(ctx, "mart_product_performance",
		`INSERT INTO mart_product_performance
		(product_key, stock_code, description, total_quantity, total_orders, unique_customers,
		total_revenue, avg_unit_price, revenue_rank, quantity_rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.ProductKey, r.StockCode, r.Description, r.TotalQuantity, r.TotalOrders,
				r.UniqueCustomers, r.TotalRevenue, r.AvgUnitPrice, r.RevenueRank, r.QuantityRank}
		})
}

// ReplaceMonthlyTrends rebuilds mart_monthly_trends.
func (db *DB) ReplaceMonthlyTrends(ctx context.Context, rows []MonthlyTrend) (int, error) {
	return db.replaceTable(ctx, "mart_monthly_trends",
		`INSERT INTO mart_monthly_trends
		(year_month, year, month, total_revenue, total_orders, unique_customers, total_items_sold,
		avg_order_value, revenue_growth, order_growth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.YearMonth, r.Year, r.Month, r.TotalRevenue, r.TotalOrders, r.UniqueCustomers,
				r.TotalItemsSold, r.AvgOrderValue, r.RevenueGrowth, r.OrderGrowth}
		})
}

// ListDailyKPIs returns the daily KPI mart in date order.
func (db *DB) ListDailyKPIs(ctx context.Context) ([]DailyKPI, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT date_key, full_date, total_revenue, total_orders, total_items_sold, unique_customers,
		avg_order_value, cancelled_orders, cancelled_revenue, return_orders, returned_items,
		cancellation_rate, return_rate
		FROM mart_daily_kpis ORDER BY date_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyKPI
	for rows.Next() {
		var k DailyKPI
		if err := rows.Scan(&k.DateKey, &k.FullDate, &k.TotalRevenue, &k.TotalOrders,
			&k.TotalItemsSold, &k.UniqueCustomers, &k.AvgOrderValue, &k.CancelledOrders,
			&k.CancelledRevenue, &k.ReturnOrders, &k.ReturnedItems, &k.CancellationRate,
			&k.ReturnRate); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListRFM returns the RFM mart ordered by customer key.
func (db *DB) ListRFM(ctx context.Context) ([]RFMScore, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT customer_key, customer_id, recency_days, frequency, monetary, avg_order_value,
		r_score, f_score, m_score, rfm_score, rfm_segment
		FROM mart_rfm ORDER BY customer_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RFMScore
	for rows.Next() {
		var s RFMScore
		if err := rows.Scan(&s.CustomerKey, &s.CustomerID, &s.RecencyDays, &s.Frequency, &s.Monetary,
			&s.AvgOrderValue, &s.R, &s.F, &s.M, &s.Score, &s.Segment); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListCountryPerformance returns the country mart ordered by revenue.
func (db *DB) ListCountryPerformance(ctx context.Context) ([]CountryPerformance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT country_key, country_name, total_revenue, total_orders, total_customers,
		total_quantity, avg_order_value, revenue_share, order_share
		FROM mart_country_performance ORDER BY total_revenue DESC, country_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountryPerformance
	for rows.Next() {
		var r CountryPerformance
		if err := rows.Scan(&r.CountryKey, &r.CountryName, &r.TotalRevenue, &r.TotalOrders,
			&r.TotalCustomers, &r.TotalQuantity, &r.AvgOrderValue, &r.RevenueShare,
			&r.OrderShare); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListProductPerformance returns the product mart ordered by revenue rank.
func (db *DB) ListProductPerformance(ctx context.Context) ([]ProductPerformance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT product_key, stock_code, description, total_quantity, total_orders, unique_customers,
		total_revenue, avg_unit_price, revenue_rank, quantity_rank
		FROM mart_product_performance ORDER BY revenue_rank, product_key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductPerformance
	for rows.Next() {
		var r ProductPerformance
		if err := rows.Scan(&r.ProductKey, &r.StockCode, &r.Description, &r.TotalQuantity,
			&r.TotalOrders, &r.UniqueCustomers, &r.TotalRevenue, &r.AvgUnitPrice,
			&r.RevenueRank, &r.QuantityRank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListMonthlyTrends returns the trends mart in calendar order.
func (db *DB) ListMonthlyTrends(ctx context.Context) ([]MonthlyTrend, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT year_month, year, month, total_revenue, total_orders, unique_customers,
		total_items_sold, avg_order_value, revenue_growth, order_growth
		FROM mart_monthly_trends ORDER BY year_month`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthlyTrend
	for rows.Next() {
		var r MonthlyTrend
		if err := rows.Scan(&r.YearMonth, &r.Year, &r.Month, &r.TotalRevenue, &r.TotalOrders,
			&r.UniqueCustomers, &r.TotalItemsSold, &r.AvgOrderValue, &r.RevenueGrowth,
			&r.OrderGrowth); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
