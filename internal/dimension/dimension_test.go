package dimension

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func id(v int64) *int64 { return &v }

func day(d int, hour int) time.Time {
	return time.Date(2010, 12, d, hour, 0, 0, 0, time.UTC)
}

func sample() []database.CleanRecord {
	return []database.CleanRecord{
		{ID: 1, InvoiceNo: "536365", StockCode: "A1", Description: "MUG OLD", Quantity: 6, UnitPrice: 2.55,
			InvoiceDate: day(1, 8), CustomerID: id(17850), Country: "United Kingdom", LineTotal: 15.3},
		{ID: 2, InvoiceNo: "536366", StockCode: "A1", Description: "MUG NEW", Quantity: 2, UnitPrice: 2.45,
			InvoiceDate: day(3, 9), CustomerID: id(12583), Country: "France", LineTotal: 4.9},
		{ID: 3, InvoiceNo: "C536379", StockCode: "A1", Description: "MUG CANCEL", Quantity: -1, UnitPrice: 2.55,
			InvoiceDate: day(2, 9), CustomerID: id(17850), Country: "United Kingdom", LineTotal: -2.55,
			IsCancelled: true, IsReturn: true},
		{ID: 4, InvoiceNo: "536367", StockCode: "B2", Description: "LAMP", Quantity: 1, UnitPrice: 10,
			InvoiceDate: day(4, 10), Country: "United Kingdom", LineTotal: 10},
		{ID: 5, InvoiceNo: "536368", StockCode: "B2", Description: "LAMP", Quantity: 3, UnitPrice: 10,
			InvoiceDate: day(5, 10), CustomerID: id(17850), Country: "Germany", LineTotal: 30},
	}
}

func TestBuildCountries(t *testing.T) {
	countries := BuildCountries(sample())
	require.Len(t, countries, 3)

	uk := countries[2]
	assert.Equal(t, "United Kingdom", uk.Name)
	assert.Equal(t, 1, uk.TotalCustomers)
	assert.Equal(t, 2, uk.TotalOrders)
	assert.Equal(t, 25.3, uk.TotalRevenue)
	assert.Equal(t, "2010-12-01", *uk.FirstOrderDate)
	assert.Equal(t, "2010-12-04", *uk.LastOrderDate)
}

func TestBuildProductsUsesLatestDescription(t *testing.T) {
	products := BuildProducts(sample())
	require.Len(t, products, 2)

	mug := products[0]
	assert.Equal(t, "A1", mug.StockCode)
	assert.Equal(t, "MUG NEW", mug.Description)
	assert.Equal(t, 8, mug.TotalQuantity)
	assert.Equal(t, 2, mug.TotalOrders)
	assert.Equal(t, 20.2, mug.TotalRevenue)
	assert.Equal(t, 2.5, mug.AvgUnitPrice)
}

func TestBuildCustomersSkipsGuests(t *testing.T) {
	customers := BuildCustomers(sample())
	require.Len(t, customers, 2)

	c := customers[1]
	assert.Equal(t, int64(17850), c.CustomerID)
	assert.Equal(t, "Germany", c.Country)
	assert.Equal(t, 2, c.TotalOrders)
	assert.Equal(t, 9, c.TotalItems)
	assert.Equal(t, 45.3, c.TotalRevenue)
	assert.Equal(t, "2010-12-05", *c.LastPurchaseDate)
}

func TestBuildOverEmptyStaging(t *testing.T) {
	assert.Empty(t, BuildCountries(nil))
	assert.Empty(t, BuildProducts(nil))
	assert.Empty(t, BuildCustomers(nil))
}

func TestRefreshIsIdempotentAndKeepsKeys(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ReplaceCleanRecords(ctx, sample())
	require.NoError(t, err)

	r := New(db, nil)
	for i := 0; i < 2; i++ {
		_, err := r.RefreshCountries(ctx)
		require.NoError(t, err)
		_, err = r.RefreshProducts(ctx)
		require.NoError(t, err)
		_, err = r.RefreshCustomers(ctx)
		require.NoError(t, err)
	}
	first, err := db.ListCustomers(ctx)
	require.NoError(t, err)

	_, err = r.RefreshCustomers(ctx)
	require.NoError(t, err)
	second, err := db.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	products, err := db.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, 8, products[0].TotalQuantity)
}

func TestRefreshBeforeCleansingClearsAggregates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ReplaceCleanRecords(ctx, sample())
	require.NoError(t, err)

	r := New(db, nil)
	_, err = r.RefreshCountries(ctx)
	require.NoError(t, err)

	_, err = db.ReplaceCleanRecords(ctx, nil)
	require.NoError(t, err)
	n, err := r.RefreshCountries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	countries, err := db.ListCountries(ctx)
	require.NoError(t, err)
	require.Len(t, countries, 3)
	for _, c := range countries {
		assert.Zero(t, c.TotalOrders)
		assert.Zero(t, c.TotalRevenue)
	}
}

func TestBuildDates(t *testing.T) {
	days := BuildDates(time.Date(2010, 12, 31, 15, 0, 0, 0, time.UTC), time.Date(2011, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Len(t, days, 3)

	assert.Equal(t, 20101231, days[0].DateKey)
	assert.Equal(t, "Friday", days[0].DayName)
	assert.Equal(t, 5, days[0].DayOfWeek)
	assert.Equal(t, 4, days[0].Quarter)
	assert.False(t, days[0].IsWeekend)
	assert.True(t, days[1].IsWeekend)
	assert.Equal(t, 7, days[2].DayOfWeek)
	assert.Equal(t, "January", days[2].MonthName)
}

func TestSeedDatesOnlyInsertsMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := New(db, nil)

	n, err := r.SeedDates(ctx, day(1, 0), day(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = r.SeedDates(ctx, day(1, 0), day(12, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = r.SeedDates(ctx, day(12, 0), day(1, 0))
	assert.Error(t, err)
}
