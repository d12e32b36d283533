package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "warehouse schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS raw_transactions (
    raw_id INTEGER PRIMARY KEY AUTOINCREMENT,
    invoice_no TEXT,
    stock_code TEXT,
    description TEXT,
    quantity INTEGER,
    invoice_date TEXT,
    unit_price REAL,
    customer_id TEXT,
    country TEXT,
    loaded_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stg_transactions_clean (
    clean_id INTEGER PRIMARY KEY,
    invoice_no TEXT NOT NULL,
    stock_code TEXT NOT NULL,
    description TEXT NOT NULL,
    quantity INTEGER NOT NULL CHECK(quantity <> 0),
    invoice_date TEXT NOT NULL,
    unit_price REAL NOT NULL CHECK(unit_price > 0),
    customer_id INTEGER,
    country TEXT NOT NULL,
    line_total REAL NOT NULL,
    is_cancelled INTEGER NOT NULL DEFAULT 0,
    is_return INTEGER NOT NULL DEFAULT 0,
    loaded_at TEXT
);

CREATE TABLE IF NOT EXISTS dim_date (
    date_key INTEGER PRIMARY KEY,
    full_date TEXT UNIQUE NOT NULL,
    year INTEGER NOT NULL,
    quarter INTEGER NOT NULL,
    month INTEGER NOT NULL,
    month_name TEXT NOT NULL,
    week_of_year INTEGER NOT NULL,
    day_of_month INTEGER NOT NULL,
    day_of_week INTEGER NOT NULL,
    day_name TEXT NOT NULL,
    is_weekend INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dim_country (
    country_key INTEGER PRIMARY KEY,
    country_name TEXT UNIQUE NOT NULL,
    total_customers INTEGER NOT NULL DEFAULT 0,
    total_orders INTEGER NOT NULL DEFAULT 0,
    total_revenue REAL NOT NULL DEFAULT 0,
    first_order_date TEXT,
    last_order_date TEXT
);

CREATE TABLE IF NOT EXISTS dim_product (
    product_key INTEGER PRIMARY KEY,
    stock_code TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL,
    total_quantity INTEGER NOT NULL DEFAULT 0,
    total_orders INTEGER NOT NULL DEFAULT 0,
    total_revenue REAL NOT NULL DEFAULT 0,
    avg_unit_price REAL NOT NULL DEFAULT 0,
    first_sold_date TEXT,
    last_sold_date TEXT
);

CREATE TABLE IF NOT EXISTS dim_customer (
    customer_key INTEGER PRIMARY KEY,
    customer_id INTEGER UNIQUE NOT NULL,
    country TEXT NOT NULL,
    total_orders INTEGER NOT NULL DEFAULT 0,
    total_items INTEGER NOT NULL DEFAULT 0,
    total_revenue REAL NOT NULL DEFAULT 0,
    first_purchase_date TEXT,
    last_purchase_date TEXT,
    r_score INTEGER,
    f_score INTEGER,
    m_score INTEGER,
    rfm_segment TEXT
);

CREATE TABLE IF NOT EXISTS fact_sales (
    sales_key INTEGER PRIMARY KEY,
    invoice_no TEXT NOT NULL,
    date_key INTEGER NOT NULL,
    customer_key INTEGER REFERENCES dim_customer(customer_key),
    product_key INTEGER NOT NULL REFERENCES dim_product(product_key),
    country_key INTEGER NOT NULL REFERENCES dim_country(country_key),
    quantity INTEGER NOT NULL,
    unit_price REAL NOT NULL,
    line_total REAL NOT NULL,
    is_cancelled INTEGER NOT NULL DEFAULT 0,
    is_return INTEGER NOT NULL DEFAULT 0,
    invoice_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mart_daily_kpis (
    date_key INTEGER PRIMARY KEY,
    full_date TEXT NOT NULL,
    total_revenue REAL NOT NULL,
    total_orders INTEGER NOT NULL,
    total_items_sold INTEGER NOT NULL,
    unique_customers INTEGER NOT NULL,
    avg_order_value REAL NOT NULL,
    cancelled_orders INTEGER NOT NULL,
    cancelled_revenue REAL NOT NULL,
    return_orders INTEGER NOT NULL,
    returned_items INTEGER NOT NULL,
    cancellation_rate REAL NOT NULL,
    return_rate REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS mart_rfm (
    customer_key INTEGER PRIMARY KEY,
    customer_id INTEGER NOT NULL,
    recency_days INTEGER NOT NULL,
    frequency INTEGER NOT NULL,
    monetary REAL NOT NULL,
    avg_order_value REAL NOT NULL,
    r_score INTEGER NOT NULL,
    f_score INTEGER NOT NULL,
    m_score INTEGER NOT NULL,
    rfm_score TEXT NOT NULL,
    rfm_segment TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mart_country_performance (
    country_key INTEGER PRIMARY KEY,
    country_name TEXT NOT NULL,
    total_revenue REAL NOT NULL,
    total_orders INTEGER NOT NULL,
    total_customers INTEGER NOT NULL,
    total_quantity INTEGER NOT NULL,
    avg_order_value REAL NOT NULL,
    revenue_share REAL NOT NULL,
    order_share REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS mart_product_performance (
    product_key INTEGER PRIMARY KEY,
    stock_code TEXT NOT NULL,
    description TEXT NOT NULL,
    total_quantity INTEGER NOT NULL,
    total_orders INTEGER NOT NULL,
    unique_customers INTEGER NOT NULL,
    total_revenue REAL NOT NULL,
    avg_unit_price REAL NOT NULL,
    revenue_rank INTEGER NOT NULL,
    quantity_rank INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mart_monthly_trends (
    year_month TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    total_revenue REAL NOT NULL,
    total_orders INTEGER NOT NULL,
    unique_customers INTEGER NOT NULL,
    total_items_sold INTEGER NOT NULL,
    avg_order_value REAL NOT NULL,
    revenue_growth REAL,
    order_growth REAL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_key TEXT UNIQUE NOT NULL,
    run_type TEXT NOT NULL,
    source_label TEXT,
    status TEXT NOT NULL CHECK(status IN ('running', 'success', 'warning', 'failed')),
    started_at TEXT NOT NULL,
    completed_at TEXT,
    stages_completed INTEGER NOT NULL DEFAULT 0,
    rows_processed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    metadata TEXT
);

CREATE TABLE IF NOT EXISTS quality_check_results (
    check_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES pipeline_runs(run_id),
    check_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    passed INTEGER NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('info', 'warning', 'critical')),
    actual_value TEXT,
    expected_value TEXT,
    checked_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS table_freshness (
    table_name TEXT PRIMARY KEY,
    last_refresh_at TEXT NOT NULL,
    refresh_run_id INTEGER,
    row_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    refresh_type TEXT NOT NULL DEFAULT 'full'
);

CREATE TABLE IF NOT EXISTS ml_forecast_daily (
    forecast_date TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    predicted_value REAL NOT NULL,
    lower_bound REAL NOT NULL,
    upper_bound REAL NOT NULL,
    model_name TEXT NOT NULL,
    model_version TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (forecast_date, metric_name)
);

CREATE TABLE IF NOT EXISTS ml_anomalies_daily (
    anomaly_date TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    actual_value REAL NOT NULL,
    expected_value REAL NOT NULL,
    deviation_pct REAL NOT NULL,
    z_score REAL NOT NULL DEFAULT 0,
    anomaly_type TEXT NOT NULL CHECK(anomaly_type IN ('spike', 'drop')),
    severity TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high', 'critical')),
    is_weekend INTEGER NOT NULL DEFAULT 0,
    business_interpretation TEXT,
    recommended_action TEXT,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    acknowledged_by TEXT,
    acknowledged_at TEXT,
    updated_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (anomaly_date, metric_name)
);

CREATE INDEX IF NOT EXISTS idx_fact_sales_date ON fact_sales(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_sales_customer ON fact_sales(customer_key);
CREATE INDEX IF NOT EXISTS idx_stg_customer ON stg_transactions_clean(customer_id);
CREATE INDEX IF NOT EXISTS idx_quality_run ON quality_check_results(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
