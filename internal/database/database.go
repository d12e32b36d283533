package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Timestamp and date layouts used for every TEXT time column.
const (
	TimeLayout = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"
)

// DB wraps the SQLite warehouse connection.
type DB struct {
	conn *sql.DB
	path string
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	log *zap.Logger
}

// WithLogger reports schema migrations on log.
func WithLogger(log *zap.Logger) Option {
	return func(o *openOptions) { o.log = log }
}

// Open creates or opens the warehouse at the given path and migrates it.
func Open(dbPath string, opts ...Option) (*DB, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer: one connection keeps stage transactions strictly serialized.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if err := migrate(conn, logging.OrNop(o.log).Named("database")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// New wraps an existing connection without migrating it.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the warehouse is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceTable swaps the whole content of table in one transaction.
func (db *DB) replaceTable(ctx context.Context, table, insert string, n int, args func(i int) []any) (int, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceRows(ctx, tx, table, insert, n, args)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func replaceRows(ctx context.Context, tx *sql.Tx, table, insert string, n int, args func(i int) []any) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// CountRows returns the row count of a warehouse table.
func (db *DB) CountRows(ctx context.Context, table string) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

var knownTables = map[string]bool{
	"raw_transactions":         true,
	"stg_transactions_clean":   true,
	"dim_date":                 true,
	"dim_country":              true,
	"dim_product":              true,
	"dim_customer":             true,
	"fact_sales":               true,
	"mart_daily_kpis":          true,
	"mart_rfm":                 true,
	"mart_country_performance": true,
	"mart_product_performance": true,
	"mart_monthly_trends":      true,
	"quality_check_results":    true,
	"pipeline_runs":            true,
	"ml_forecast_daily":        true,
	"ml_anomalies_daily":       true,
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
