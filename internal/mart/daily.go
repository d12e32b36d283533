package mart

import (
	"math"
	"sort"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

// BuildDailyKPIs returns one KPI row per date present in the facts, in date order.
func BuildDailyKPIs(lines []database.FactLine) []database.DailyKPI {
	byDay := make(map[int][]database.FactLine)
	dates := make(map[int]string)
	for _, l := range lines {
		byDay[l.DateKey] = append(byDay[l.DateKey], l)
		dates[l.DateKey] = l.FullDate
	}

	keys := make([]int, 0, len(byDay))
	for k := range byDay {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]database.DailyKPI, 0, len(keys))
	for _, k := range keys {
		out = append(out, dailyKPI(k, dates[k], byDay[k]))
	}
	return out
}

// dailyKPI aggregates the lines of one day. Revenue, items and AOV skip
// cancelled and returned lines; order counts skip cancelled lines only.
// Rates divide by every distinct invoice of the day.
func dailyKPI(dateKey int, fullDate string, lines []database.FactLine) database.DailyKPI {
	invoices := set[string]{}
	orders := set[string]{}
	cancelled := set[string]{}
	returned := set[string]{}
	customers := set[int64]{}

	var revenue, cancelledRevenue float64
	var items, returnedItems int
	for _, l := range lines {
		invoices.add(l.InvoiceNo)
		if l.IsCancelled {
			cancelled.add(l.InvoiceNo)
			cancelledRevenue += math.Abs(l.LineTotal)
		} else {
			orders.add(l.InvoiceNo)
			if l.CustomerID != nil {
				customers.add(*l.CustomerID)
			}
		}
		if l.IsReturn {
			returned.add(l.InvoiceNo)
			returnedItems += -l.Quantity
		}
		if counted(l) {
			revenue += l.LineTotal
			items += l.Quantity
		}
	}

	revenue = round(revenue, 2)
	return database.DailyKPI{
		DateKey:          dateKey,
		FullDate:         fullDate,
		TotalRevenue:     revenue,
		TotalOrders:      len(orders),
		TotalItemsSold:   items,
		UniqueCustomers:  len(customers),
		AvgOrderValue:    round(safeDiv(revenue, float64(len(orders))), 2),
		CancelledOrders:  len(cancelled),
		CancelledRevenue: round(cancelledRevenue, 2),
		ReturnOrders:     len(returned),
		ReturnedItems:    returnedItems,
		CancellationRate: round(safeDiv(float64(len(cancelled)), float64(len(invoices))), 4),
		ReturnRate:       round(safeDiv(float64(len(returned)), float64(len(invoices))), 4),
	}
}
