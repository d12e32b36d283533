package mart

import (
	"sort"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

type groupAgg struct {
	name        string
	description string
	invoices    set[string]
	customers   set[int64]
	quantity    int
	revenue     float64
	priceSum    float64
	lines       int
}

func newGroupAgg() *groupAgg {
	return &groupAgg{invoices: set[string]{}, customers: set[int64]{}}
}

func (g *groupAgg) add(l database.FactLine) {
	g.invoices.add(l.InvoiceNo)
	if l.CustomerID != nil {
		g.customers.add(*l.CustomerID)
	}
	g.quantity += l.Quantity
	g.revenue += l.LineTotal
	g.priceSum += l.UnitPrice
	g.lines++
}

// BuildCountryPerformance sums completed sales per country. Shares are
// fractions of the global revenue and order totals.
func BuildCountryPerformance(lines []database.FactLine) []database.CountryPerformance {
	groups := make(map[int64]*groupAgg)
	allOrders := set[string]{}
	var allRevenue float64
	for _, l := range lines {
		if !counted(l) {
			continue
		}
		g, ok := groups[l.CountryKey]
		if !ok {
			g = newGroupAgg()
			g.name = l.CountryName
			groups[l.CountryKey] = g
		}
		g.add(l)
		allOrders.add(l.InvoiceNo)
		allRevenue += l.LineTotal
	}

	out := make([]database.CountryPerformance, 0, len(groups))
	for key, g := range groups {
		revenue := round(g.revenue, 2)
		out = append(out, database.CountryPerformance{
			CountryKey:     key,
			CountryName:    g.name,
			TotalRevenue:   revenue,
			TotalOrders:    len(g.invoices),
			TotalCustomers: len(g.customers),
			TotalQuantity:  g.quantity,
			AvgOrderValue:  round(safeDiv(revenue, float64(len(g.invoices))), 2),
			RevenueShare:   round(safeDiv(g.revenue, allRevenue), 4),
			OrderShare:     round(safeDiv(float64(len(g.invoices)), float64(len(allOrders))), 4),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryKey < out[j].CountryKey })
	return out
}

// BuildProductPerformance sums completed sales per product and ranks
// products by revenue and by quantity. Both ranks are dense and descending.
func BuildProductPerformance(lines []database.FactLine) []database.ProductPerformance {
	groups := make(map[int64]*groupAgg)
	for _, l := range lines {
		if !counted(l) {
			continue
		}
		g, ok := groups[l.ProductKey]
		if !ok {
			g = newGroupAgg()
			g.name = l.StockCode
			g.description = l.Description
			groups[l.ProductKey] = g
		}
		g.add(l)
	}

	out := make([]database.ProductPerformance, 0, len(groups))
	for key, g := range groups {
		out = append(out, database.ProductPerformance{
			ProductKey:      key,
			StockCode:       g.name,
			Description:     g.description,
			TotalQuantity:   g.quantity,
			TotalOrders:     len(g.invoices),
			UniqueCustomers: len(g.customers),
			TotalRevenue:    round(g.revenue, 2),
			AvgUnitPrice:    round(safeDiv(g.priceSum, float64(g.lines)), 2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductKey < out[j].ProductKey })

	revenue := make([]float64, len(out))
	quantity := make([]float64, len(out))
	for i, p := range out {
		revenue[i] = p.TotalRevenue
		quantity[i] = float64(p.TotalQuantity)
	}
	revenueRank := DenseRank(revenue)
	quantityRank := DenseRank(quantity)
	for i := range out {
		out[i].RevenueRank = revenueRank[i]
		out[i].QuantityRank = quantityRank[i]
	}
	return out
}

// DenseRank ranks values descending; equal values share a rank and the
// next distinct value takes the following rank.
func DenseRank(values []float64) []int {
	distinct := make([]float64, 0, len(values))
	seen := make(map[float64]bool)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			distinct = append(distinct, v)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(distinct)))

	rank := make(map[float64]int, len(distinct))
	for i, v := range distinct {
		rank[v] = i + 1
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = rank[v]
	}
	return out
}
