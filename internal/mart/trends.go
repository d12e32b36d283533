package mart

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

type monthAgg struct {
	year, month int
	orders      set[string]
	customers   set[int64]
	items       int
	revenue     float64
}

// BuildMonthlyTrends aggregates facts per calendar month and computes
// month-over-month growth against the previous calendar month.
func BuildMonthlyTrends(lines []database.FactLine) []database.MonthlyTrend {
	months := make(map[string]*monthAgg)
	for _, l := range lines {
		if len(l.FullDate) < 7 {
			continue
		}
		ym := l.FullDate[:7]
		m, ok := months[ym]
		if !ok {
			year, _ := strconv.Atoi(ym[:4])
			month, _ := strconv.Atoi(ym[5:7])
			m = &monthAgg{year: year, month: month, orders: set[string]{}, customers: set[int64]{}}
			months[ym] = m
		}
		if !l.IsCancelled {
			m.orders.add(l.InvoiceNo)
			if l.CustomerID != nil {
				m.customers.add(*l.CustomerID)
			}
		}
		if counted(l) {
			m.items += l.Quantity
			m.revenue += l.LineTotal
		}
	}

	out := make([]database.MonthlyTrend, 0, len(months))
	for ym, m := range months {
		revenue := round(m.revenue, 2)
		out = append(out, database.MonthlyTrend{
			YearMonth:       ym,
			Year:            m.year,
			Month:           m.month,
			TotalRevenue:    revenue,
			TotalOrders:     len(m.orders),
			UniqueCustomers: len(m.customers),
			TotalItemsSold:  m.items,
			AvgOrderValue:   round(safeDiv(revenue, float64(len(m.orders))), 2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth < out[j].YearMonth })

	byMonth := make(map[string]*database.MonthlyTrend, len(out))
	for i := range out {
		byMonth[out[i].YearMonth] = &out[i]
	}
	for i := range out {
		prev, ok := byMonth[previousMonth(out[i].Year, out[i].Month)]
		if !ok {
			continue
		}
		out[i].RevenueGrowth = growth(out[i].TotalRevenue, prev.TotalRevenue)
		out[i].OrderGrowth = growth(float64(out[i].TotalOrders), float64(prev.TotalOrders))
	}
	return out
}

func previousMonth(year, month int) string {
	if month == 1 {
		return fmt.Sprintf("%04d-12", year-1)
	}
	return fmt.Sprintf("%04d-%02d", year, month-1)
}

// growth is nil when the previous value is zero.
func growth(current, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	g := round((current-previous)/previous, 4)
	return &g
}
