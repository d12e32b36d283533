package mart

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

func i64(v int64) *int64 { return &v }

// line builds a fact line. customer 0 means a guest purchase.
func line(invoice, date string, customer int64, product int64, qty int, price float64) database.FactLine {
	l := database.FactLine{
		FactSale: database.FactSale{
			InvoiceNo:   invoice,
			ProductKey:  product,
			CountryKey:  1,
			Quantity:    qty,
			UnitPrice:   price,
			LineTotal:   round(float64(qty)*price, 2),
			IsCancelled: len(invoice) > 0 && invoice[0] == 'C',
			IsReturn:    qty < 0,
		},
		FullDate:    date,
		StockCode:   fmt.Sprintf("P%d", product),
		Description: fmt.Sprintf("Product %d", product),
		CountryName: "United Kingdom",
	}
	var key int
	for _, c := range date {
		if c >= '0' && c <= '9' {
			key = key*10 + int(c-'0')
		}
	}
	l.DateKey = key
	if customer != 0 {
		l.CustomerKey = i64(customer)
		l.CustomerID = i64(customer + 10000)
	}
	return l
}

func TestDailyKPIsCancelledInvoiceScenario(t *testing.T) {
	kpis := BuildDailyKPIs([]database.FactLine{
		line("536365", "2010-12-01", 1, 1, 6, 2.55),
		line("C536379", "2010-12-02", 1, 1, -1, 2.55),
	})
	require.Len(t, kpis, 2)

	d1 := kpis[0]
	assert.Equal(t, 20101201, d1.DateKey)
	assert.Equal(t, 15.30, d1.TotalRevenue)
	assert.Equal(t, 1, d1.TotalOrders)
	assert.Equal(t, 0, d1.CancelledOrders)
	assert.Equal(t, 15.30, d1.AvgOrderValue)
	assert.Equal(t, 1, d1.UniqueCustomers)

	d2 := kpis[1]
	assert.Equal(t, 0, d2.TotalOrders)
	assert.Equal(t, 2.55, d2.CancelledRevenue)
	assert.Equal(t, 1, d2.CancelledOrders)
	assert.Equal(t, 1.0, d2.CancellationRate)
	assert.Equal(t, 0.0, d2.AvgOrderValue)
	assert.Equal(t, 1, d2.ReturnOrders)
	assert.Equal(t, 1, d2.ReturnedItems)
}

func TestDailyKPIZeroOrdersYieldsZeroRatios(t *testing.T) {
	k := dailyKPI(20101203, "2010-12-03", nil)
	assert.Equal(t, 0.0, k.AvgOrderValue)
	assert.Equal(t, 0.0, k.CancellationRate)
	assert.Equal(t, 0.0, k.ReturnRate)
	assert.Equal(t, 0, k.TotalOrders)
}

func TestDailyKPIReturnsCountAsOrders(t *testing.T) {
	k := dailyKPI(20101204, "2010-12-04", []database.FactLine{
		line("536400", "2010-12-04", 1, 1, -2, 5),
		line("536401", "2010-12-04", 2, 1, 4, 5),
	})
	assert.Equal(t, 2, k.TotalOrders)
	assert.Equal(t, 20.0, k.TotalRevenue)
	assert.Equal(t, 4, k.TotalItemsSold)
	assert.Equal(t, 10.0, k.AvgOrderValue)
	assert.Equal(t, 0.5, k.ReturnRate)
	assert.Equal(t, 0.0, k.CancellationRate)
}

func TestNtile(t *testing.T) {
	var got []int
	for pos := 0; pos < 7; pos++ {
		got = append(got, Ntile(pos, 7, 5))
	}
	assert.Equal(t, []int{1, 1, 2, 2, 3, 4, 5}, got)

	got = nil
	for pos := 0; pos < 3; pos++ {
		got = append(got, Ntile(pos, 3, 5))
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRFMMonetaryQuantilesAreUniform(t *testing.T) {
	var lines []database.FactLine
	for c := int64(1); c <= 10; c++ {
		lines = append(lines, line(fmt.Sprintf("5%05d", c), "2011-01-10", c, 1, int(c), 10))
	}
	scores := BuildRFM(lines)
	require.Len(t, scores, 10)

	var m []int
	for _, s := range scores {
		m = append(m, s.M)
	}
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}, m)
}

func TestRFMRecencyIsInverted(t *testing.T) {
	var lines []database.FactLine
	for c := int64(1); c <= 5; c++ {
		lines = append(lines, line(fmt.Sprintf("6%05d", c), fmt.Sprintf("2011-01-%02d", c), c, 1, 1, 10))
	}
	scores := BuildRFM(lines)
	require.Len(t, scores, 5)

	assert.Equal(t, 4, scores[0].RecencyDays)
	assert.Equal(t, 1, scores[0].R)
	assert.Equal(t, 0, scores[4].RecencyDays)
	assert.Equal(t, 5, scores[4].R)
}

func TestRFMExcludesGuestsAndNonPositiveSpend(t *testing.T) {
	scores := BuildRFM([]database.FactLine{
		line("700001", "2011-01-01", 0, 1, 3, 10),
		line("700002", "2011-01-01", 1, 1, -3, 10),
		line("C700003", "2011-01-02", 2, 1, -1, 10),
		line("700004", "2011-01-03", 3, 1, 2, 10),
		line("700005", "2011-01-03", 3, 2, 1, 5),
		line("C700006", "2011-01-05", 3, 1, -1, 10),
	})
	require.Len(t, scores, 1)

	s := scores[0]
	assert.Equal(t, int64(3), s.CustomerKey)
	assert.Equal(t, 2, s.Frequency)
	assert.Equal(t, 25.0, s.Monetary)
	assert.Equal(t, 2, s.RecencyDays)
	assert.Equal(t, 12.5, s.AvgOrderValue)
	assert.Equal(t, "111", s.Score)
	assert.Equal(t, "Lost", s.Segment)
}

func TestSegmentPrecedence(t *testing.T) {
	cases := []struct {
		r, f, m int
		want    string
	}{
		{5, 5, 5, "Champions"},
		{4, 4, 3, "Loyal Customers"},
		{3, 3, 3, "Loyal Customers"},
		{5, 2, 2, "Potential Loyalists"},
		{5, 1, 1, "New Customers"},
		{3, 1, 5, "Promising"},
		{1, 5, 5, "Cannot Lose Them"},
		{2, 3, 3, "At Risk"},
		{1, 1, 1, "Lost"},
		{2, 2, 5, "Hibernating"},
		{1, 2, 3, "Hibernating"},
		{3, 2, 1, OtherSegment},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Segment(tc.r, tc.f, tc.m), "tiers %d%d%d", tc.r, tc.f, tc.m)
	}
}

func TestCountryPerformanceShares(t *testing.T) {
	uk := line("800001", "2011-01-01", 1, 1, 3, 10)
	fr := line("800002", "2011-01-01", 2, 1, 1, 10)
	fr.CountryKey, fr.CountryName = 2, "France"
	cancelled := line("C800003", "2011-01-01", 2, 1, -5, 10)
	cancelled.CountryKey, cancelled.CountryName = 2, "France"

	rows := BuildCountryPerformance([]database.FactLine{uk, fr, cancelled})
	require.Len(t, rows, 2)

	assert.Equal(t, "United Kingdom", rows[0].CountryName)
	assert.Equal(t, 30.0, rows[0].TotalRevenue)
	assert.Equal(t, 0.75, rows[0].RevenueShare)
	assert.Equal(t, 0.5, rows[0].OrderShare)
	assert.Equal(t, 0.25, rows[1].RevenueShare)
	assert.Equal(t, 1, rows[1].TotalQuantity)
}

func TestProductPerformanceDenseRanks(t *testing.T) {
	rows := BuildProductPerformance([]database.FactLine{
		line("900001", "2011-01-01", 1, 1, 2, 10),
		line("900002", "2011-01-01", 2, 2, 4, 5),
		line("900003", "2011-01-01", 2, 3, 1, 5),
		line("900004", "2011-01-01", 0, 3, 1, 5),
		line("900005", "2011-01-01", 1, 4, 10, 1),
	})
	require.Len(t, rows, 4)

	assert.Equal(t, []int{1, 1, 2, 2}, []int{rows[0].RevenueRank, rows[1].RevenueRank, rows[2].RevenueRank, rows[3].RevenueRank})
	assert.Equal(t, []int{3, 2, 3, 1}, []int{rows[0].QuantityRank, rows[1].QuantityRank, rows[2].QuantityRank, rows[3].QuantityRank})
	assert.Equal(t, 2, rows[2].TotalOrders)
	assert.Equal(t, 1, rows[2].UniqueCustomers)
	assert.Equal(t, "P3", rows[2].StockCode)
}

func TestDenseRank(t *testing.T) {
	assert.Equal(t, []int{2, 1, 2, 3}, DenseRank([]float64{5, 9, 5, 1}))
	assert.Empty(t, DenseRank(nil))
}

func TestMonthlyTrendsGrowth(t *testing.T) {
	trends := BuildMonthlyTrends([]database.FactLine{
		line("100001", "2010-11-15", 1, 1, 1, 100),
		line("100002", "2010-12-03", 1, 1, 1, 150),
		line("100003", "2010-12-20", 2, 1, 1, 50),
		line("100004", "2011-02-01", 1, 1, 1, 10),
		line("C100005", "2011-03-01", 1, 1, -1, 10),
		line("100006", "2011-04-01", 1, 1, 1, 10),
	})
	require.Len(t, trends, 5)

	assert.Equal(t, "2010-11", trends[0].YearMonth)
	assert.Nil(t, trends[0].RevenueGrowth)

	dec := trends[1]
	require.NotNil(t, dec.RevenueGrowth)
	assert.Equal(t, 1.0, *dec.RevenueGrowth)
	assert.Equal(t, 1.0, *dec.OrderGrowth)
	assert.Equal(t, 2, dec.UniqueCustomers)

	feb := trends[2]
	assert.Nil(t, feb.RevenueGrowth, "January missing")

	mar := trends[3]
	require.NotNil(t, mar.RevenueGrowth)
	assert.Equal(t, -1.0, *mar.RevenueGrowth)

	apr := trends[4]
	assert.Nil(t, apr.RevenueGrowth, "previous month revenue is zero")
	assert.Nil(t, apr.OrderGrowth)
}

func TestPreviousMonth(t *testing.T) {
	assert.Equal(t, "2010-12", previousMonth(2011, 1))
	assert.Equal(t, "2011-02", previousMonth(2011, 3))
}
