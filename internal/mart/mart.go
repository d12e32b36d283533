// Package mart builds the read-optimized aggregates derived from fact_sales.
// Every builder is a pure function of the fact lines; the Builder methods
// load facts, build, and atomically replace the mart table.
package mart

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Mart table names.
const (
	DailyKPITable           = "mart_daily_kpis"
	RFMTable                = "mart_rfm"
	CountryPerformanceTable = "mart_country_performance"
	ProductPerformanceTable = "mart_product_performance"
	MonthlyTrendsTable      = "mart_monthly_trends"
)

// Builder refreshes marts against the warehouse.
type Builder struct {
	db  *database.DB
	log *zap.Logger
}

// New creates a mart builder.
func New(db *database.DB, log *zap.Logger) *Builder {
	return &Builder{db: db, log: logging.OrNop(log).Named("mart")}
}

// RefreshDailyKPIs rebuilds the daily KPI mart.
func (b *Builder) RefreshDailyKPIs(ctx context.Context) (int, error) {
	return b.refresh(ctx, DailyKPITable, func(lines []database.FactLine) (int, error) {
		return b.db.ReplaceDailyKPIs(ctx, BuildDailyKPIs(lines))
	})
}

// RefreshRFM rebuilds the RFM mart and writes scores back to dim_customer.
func (b *Builder) RefreshRFM(ctx context.Context) (int, error) {
	return b.refresh(ctx, RFMTable, func(lines []database.FactLine) (int, error) {
		return b.db.ReplaceRFM(ctx, BuildRFM(lines))
	})
}

// RefreshCountryPerformance rebuilds the country performance mart.
func (b *Builder) RefreshCountryPerformance(ctx context.Context) (int, error) {
	return b.refresh(ctx, CountryPerformanceTable, func(lines []database.FactLine) (int, error) {
		return b.db.ReplaceCountryPerformance(ctx, BuildCountryPerformance(lines))
	})
}

// RefreshProductPerformance rebuilds the product performance mart.
func (b *Builder) RefreshProductPerformance(ctx context.Context) (int, error) {
	return b.refresh(ctx, ProductPerformanceTable, func(lines []database.FactLine) (int, error) {
		return b.db.ReplaceProductPerformance(ctx, BuildProductPerformance(lines))
	})
}

// RefreshMonthlyTrends rebuilds the monthly trends mart.
func (b *Builder) RefreshMonthlyTrends(ctx context.Context) (int, error) {
	return b.refresh(ctx, MonthlyTrendsTable, func(lines []database.FactLine) (int, error) {
		return b.db.ReplaceMonthlyTrends(ctx, BuildMonthlyTrends(lines))
	})
}

func (b *Builder) refresh(ctx context.Context, table string, replace func([]database.FactLine) (int, error)) (int, error) {
	lines, err := b.db.LoadFactLines(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading facts for %s: %w", table, err)
	}
	n, err := replace(lines)
	if err != nil {
		return 0, fmt.Errorf("replacing %s: %w", table, err)
	}
	b.log.Info("mart refreshed", zap.String("table", table), zap.Int("rows", n))
	return n, nil
}

// counted reports whether a line contributes to revenue and quantities.
func counted(l database.FactLine) bool {
	return !l.IsCancelled && !l.IsReturn
}

// safeDiv returns 0 for a zero denominator.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type set[K comparable] map[K]struct{}

func (s set[K]) add(k K) { s[k] = struct{}{} }
