package quality

import (
	"context"
	"fmt"
	"strconv"
)

// Checks returns the battery in evaluation order.
func (g *Gate) Checks() []Check {
	th := g.thresholds
	return []Check{
		{
			Name: "raw_data_exists", Table: "raw_transactions", Severity: Critical,
			eval: func(ctx context.Context) (bool, string, string, error) {
				n, err := g.db.CountRows(ctx, "raw_transactions")
				return n > 0, strconv.Itoa(n), "> 0", err
			},
		},
		{
			Name: "staging_retention_ratio", Table: "stg_transactions_clean", Severity: Warning,
			eval: func(ctx context.Context) (bool, string, string, error) {
				raw, err := g.db.CountRows(ctx, "raw_transactions")
				if err != nil {
					return false, "", "", err
				}
				clean, err := g.db.CountRows(ctx, "stg_transactions_clean")
				if err != nil {
					return false, "", "", err
				}
				r := ratio(clean, raw)
				return r >= th.MinRetentionRatio, formatRatio(r), ">= " + formatRatio(th.MinRetentionRatio), nil
			},
		},
		{
			Name: "customer_id_null_ratio", Table: "stg_transactions_clean", Severity: Info,
			eval: func(ctx context.Context) (bool, string, string, error) {
				total, err := g.db.CountRows(ctx, "stg_transactions_clean")
				if err != nil {
					return false, "", "", err
				}
				nulls, err := g.db.CountNullCustomers(ctx)
				if err != nil {
					return false, "", "", err
				}
				r := ratio(nulls, total)
				passed := r >= th.CustomerNullMin && r <= th.CustomerNullMax
				return passed, formatRatio(r),
					fmt.Sprintf("%s - %s", formatRatio(th.CustomerNullMin), formatRatio(th.CustomerNullMax)), nil
			},
		},
		{
			Name: "duplicate_transactions", Table: "stg_transactions_clean", Severity: Warning,
			eval: func(ctx context.Context) (bool, string, string, error) {
				n, err := g.db.CountDuplicateGroups(ctx)
				return n < th.MaxDuplicateGroups, strconv.Itoa(n), "< " + strconv.Itoa(th.MaxDuplicateGroups), err
			},
		},
		{
			Name: "daily_kpis_populated", Table: "mart_daily_kpis", Severity: Critical,
			eval: func(ctx context.Context) (bool, string, string, error) {
				n, err := g.db.CountRows(ctx, "mart_daily_kpis")
				return n > 0, strconv.Itoa(n), "> 0", err
			},
		},
		{
			Name: "rfm_populated", Table: "mart_rfm", Severity: Critical,
			eval: func(ctx context.Context) (bool, string, string, error) {
				n, err := g.db.CountRows(ctx, "mart_rfm")
				return n > 0, strconv.Itoa(n), "> 0", err
			},
		},
		{
			Name: "kpi_date_range", Table: "mart_daily_kpis", Severity: Info,
			eval: func(ctx context.Context) (bool, string, string, error) {
				first, last, err := g.db.KPIDateRange(ctx)
				if err != nil {
					return false, "", "", err
				}
				if first == nil || last == nil {
					return false, "null", "not null", nil
				}
				return true, *first + " to " + *last, "not null", nil
			},
		},
		{
			Name: "fact_date_references", Table: "fact_sales", Severity: Critical,
			eval: func(ctx context.Context) (bool, string, string, error) {
				n, err := g.db.CountOrphanDateFacts(ctx)
				return n == 0, strconv.Itoa(n), "0", err
			},
		},
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
