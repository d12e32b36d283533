package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func TestInsertRawRecordsReplaceAndAppend(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	qty := 6
	price := 2.55

	recs := []RawRecord{
		{InvoiceNo: ptr("536365"), StockCode: ptr("A1"), Quantity: &qty, UnitPrice: &price, InvoiceDate: ptr("2010-12-01 08:26:00")},
		{InvoiceNo: ptr("536366"), StockCode: ptr("A2")},
	}
	n, err := db.InsertRawRecords(ctx, recs, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.InsertRawRecords(ctx, recs[:1], false)
	require.NoError(t, err)
	count, err := db.CountRows(ctx, "raw_transactions")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = db.InsertRawRecords(ctx, recs[:1], true)
	require.NoError(t, err)
	loaded, err := db.LoadRawRecords(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "536365", *loaded[0].InvoiceNo)
	assert.Equal(t, 6, *loaded[0].Quantity)
	assert.Nil(t, loaded[0].CustomerID)
}

func TestCleanRecordsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cust := int64(17850)
	ts := time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC)

	_, err := db.ReplaceCleanRecords(ctx, []CleanRecord{
		{ID: 1, InvoiceNo: "C1", StockCode: "A1", Description: "Mug", Quantity: -2, InvoiceDate: ts,
			UnitPrice: 1.5, CustomerID: &cust, Country: "France", LineTotal: -3, IsCancelled: true, IsReturn: true},
		{ID: 2, InvoiceNo: "2", StockCode: "A1", Description: "Mug", Quantity: 1, InvoiceDate: ts,
			UnitPrice: 1.5, Country: "France", LineTotal: 1.5},
	})
	require.NoError(t, err)

	recs, err := db.LoadCleanRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].IsCancelled)
	assert.True(t, recs[0].IsReturn)
	assert.Equal(t, ts, recs[0].InvoiceDate)
	assert.Equal(t, cust, *recs[0].CustomerID)
	assert.Nil(t, recs[1].CustomerID)
}

func TestReplaceCleanRecordsRollsBackOnInsertError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db := New(conn)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM stg_transactions_clean").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO stg_transactions_clean")
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = db.ReplaceCleanRecords(context.Background(), []CleanRecord{{ID: 1, InvoiceNo: "1", StockCode: "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCountriesKeepsKeysAndClearsMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertCountries(ctx, []Country{
		{Name: "France", TotalOrders: 2, TotalRevenue: 10, FirstOrderDate: ptr("2010-12-01")},
		{Name: "Germany", TotalOrders: 1, TotalRevenue: 5},
	})
	require.NoError(t, err)
	before, err := db.CountryKeys(ctx)
	require.NoError(t, err)

	_, err = db.UpsertCountries(ctx, []Country{{Name: "Germany", TotalOrders: 3, TotalRevenue: 7}})
	require.NoError(t, err)
	after, err := db.CountryKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	countries, err := db.ListCountries(ctx)
	require.NoError(t, err)
	require.Len(t, countries, 2)
	assert.Equal(t, "France", countries[0].Name)
	assert.Zero(t, countries[0].TotalOrders)
	assert.Nil(t, countries[0].FirstOrderDate)
	assert.Equal(t, 3, countries[1].TotalOrders)
}

func TestInsertDatesIgnoresExisting(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day := DateDim{DateKey: 20101201, FullDate: "2010-12-01", Year: 2010, Quarter: 4, Month: 12,
		MonthName: "December", WeekOfYear: 48, DayOfMonth: 1, DayOfWeek: 3, DayName: "Wednesday"}

	n, err := db.InsertDates(ctx, []DateDim{day})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.InsertDates(ctx, []DateDim{day})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func seedKeys(t *testing.T, db *DB) (country, product, customer int64) {
	t.Helper()
	ctx := context.Background()
	_, err := db.UpsertCountries(ctx, []Country{{Name: "France"}})
	require.NoError(t, err)
	_, err = db.UpsertProducts(ctx, []Product{{StockCode: "A1", Description: "Mug"}})
	require.NoError(t, err)
	_, err = db.UpsertCustomers(ctx, []Customer{{CustomerID: 12345, Country: "France"}})
	require.NoError(t, err)

	ck, _ := db.CountryKeys(ctx)
	pk, _ := db.ProductKeys(ctx)
	cu, _ := db.CustomerKeys(ctx)
	return ck["France"], pk["A1"], cu[12345]
}

func TestFactLinesAndOrphanDates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	country, product, customer := seedKeys(t, db)

	_, err := db.ReplaceFactSales(ctx, []FactSale{
		{SalesKey: 1, InvoiceNo: "1", DateKey: 20101201, CustomerKey: &customer, ProductKey: product,
			CountryKey: country, Quantity: 2, UnitPrice: 1, LineTotal: 2, InvoiceDate: "2010-12-01 08:00:00"},
		{SalesKey: 2, InvoiceNo: "2", DateKey: 20101202, ProductKey: product,
			CountryKey: country, Quantity: 1, UnitPrice: 1, LineTotal: 1, InvoiceDate: "2010-12-02 09:00:00"},
	})
	require.NoError(t, err)

	lines, err := db.LoadFactLines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "2010-12-01", lines[0].FullDate)
	assert.Equal(t, int64(12345), *lines[0].CustomerID)
	assert.Nil(t, lines[1].CustomerID)
	assert.Equal(t, "France", lines[1].CountryName)

	orphans, err := db.CountOrphanDateFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, orphans)

	_, err = db.InsertDates(ctx, []DateDim{{DateKey: 20101201, FullDate: "2010-12-01", MonthName: "December", DayName: "Wednesday"}})
	require.NoError(t, err)
	orphans, err = db.CountOrphanDateFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, orphans)
}

func TestReplaceRFMWritesBackToCustomer(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, _, customer := seedKeys(t, db)

	_, err := db.ReplaceRFM(ctx, []RFMScore{{CustomerKey: customer, CustomerID: 12345, R: 5, F: 4, M: 3,
		Score: "543", Segment: "Loyal Customers", Frequency: 2, Monetary: 20}})
	require.NoError(t, err)

	customers, err := db.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	require.NotNil(t, customers[0].RScore)
	assert.Equal(t, 5, *customers[0].RScore)
	assert.Equal(t, "Loyal Customers", *customers[0].Segment)

	_, err = db.ReplaceRFM(ctx, nil)
	require.NoError(t, err)
	customers, err = db.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Nil(t, customers[0].RScore)
	assert.Nil(t, customers[0].Segment)
}

func TestRunLifecycleKeepsGateStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	id, err := db.BeginRun(ctx, "01HKEY", "etl_full", ptr("test"), now)
	require.NoError(t, err)

	require.NoError(t, db.RecordStage(ctx, StageRecord{RunID: id, Table: "fact_sales", Rows: 10, TableRows: 25, DurationMs: 4, At: now}))
	require.NoError(t, db.RecordStage(ctx, StageRecord{RunID: id, Table: "mart_rfm", Rows: 3, TableRows: 3, DurationMs: 2, At: now}))
	require.NoError(t, db.SetRunStatus(ctx, id, RunWarning))
	require.NoError(t, db.CompleteRun(ctx, id, `{"stages":2}`, now))

	run, err := db.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunWarning, run.Status)
	assert.Equal(t, 2, run.StagesCompleted)
	assert.Equal(t, 13, run.RowsProcessed)
	require.NotNil(t, run.CompletedAt)

	err = db.FailRun(ctx, id, "late failure", now)
	assert.ErrorIs(t, err, ErrRunTerminal)

	fresh, err := db.ListFreshness(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "fact_sales", fresh[0].Table)
	assert.Equal(t, id, *fresh[0].RefreshRunID)
	assert.Equal(t, "full", fresh[0].RefreshType)
	// The marker carries the table size, the run the rows it touched.
	assert.Equal(t, 25, fresh[0].RowCount)
}

func TestCompleteRunPromotesRunningToSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	id, err := db.BeginRun(ctx, "01HKEY2", "manual_stage", nil, now)
	require.NoError(t, err)
	require.NoError(t, db.CompleteRun(ctx, id, "{}", now))

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, RunSuccess, latest.Status)
}

func TestCompleteRunTerminalWithMock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db := New(conn)

	mock.ExpectExec("UPDATE pipeline_runs").WillReturnResult(sqlmock.NewResult(0, 0))

	err = db.CompleteRun(context.Background(), 7, "{}", time.Now())
	assert.ErrorIs(t, err, ErrRunTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStageWithoutRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordStage(ctx, StageRecord{Table: "raw_transactions", TableRows: 4, RefreshType: "incremental", At: time.Now()}))
	fresh, err := db.ListFreshness(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Nil(t, fresh[0].RefreshRunID)
	assert.Equal(t, "incremental", fresh[0].RefreshType)
	assert.Equal(t, 4, fresh[0].RowCount)
}

func TestAnomalyAcknowledgementSurvivesUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := Anomaly{Date: "2011-01-05", Metric: "total_revenue", Actual: 100, Expected: 300,
		DeviationPct: -66.7, Type: "drop", Severity: "high"}

	_, err := db.UpsertAnomalies(ctx, []Anomaly{a})
	require.NoError(t, err)
	active, err := db.ListActiveAnomalies(ctx, "2011-01-01")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, db.AcknowledgeAnomaly(ctx, a.Date, a.Metric, "ops", time.Now()))
	_, err = db.UpsertAnomalies(ctx, []Anomaly{a})
	require.NoError(t, err)

	active, err = db.ListActiveAnomalies(ctx, "2011-01-01")
	require.NoError(t, err)
	assert.Empty(t, active)

	err = db.AcknowledgeAnomaly(ctx, "2011-02-01", "total_orders", "ops", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveAnomaliesOrderedBySeverity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAnomalies(ctx, []Anomaly{
		{Date: "2011-01-07", Metric: "total_orders", Type: "spike", Severity: "medium"},
		{Date: "2011-01-05", Metric: "total_revenue", Type: "drop", Severity: "critical"},
		{Date: "2011-01-06", Metric: "total_revenue", Type: "drop", Severity: "low"},
	})
	require.NoError(t, err)

	active, err := db.ListActiveAnomalies(ctx, "2011-01-01")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "critical", active[0].Severity)
	assert.Equal(t, "medium", active[1].Severity)
	assert.Equal(t, "low", active[2].Severity)
}

func TestDailySeriesRejectsUnknownMetric(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.DailySeries(ctx, "revenue; DROP TABLE mart_daily_kpis")
	require.Error(t, err)

	_, err = db.ReplaceDailyKPIs(ctx, []DailyKPI{
		{DateKey: 20101201, FullDate: "2010-12-01", TotalRevenue: 15.3, TotalOrders: 1},
	})
	require.NoError(t, err)
	series, err := db.DailySeries(ctx, "total_orders")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 1.0, series[0].Value)
}

func TestCountRowsUnknownTable(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CountRows(context.Background(), "sqlite_master")
	assert.Error(t, err)
}
