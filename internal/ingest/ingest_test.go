package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
)

const export = `InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country
536365,85123A,WHITE HANGING HEART T-LIGHT HOLDER,6,12/01/2010 08:26,2.55,17850.0,United Kingdom
C536379,D,Discount,-1,2010-12-02,27.5,14527,United Kingdom
536366,22633,"HAND WARMER UNION JACK",6,12/01/2010 08:28,1.85,,United Kingdom
536367,84879,BIRD ORNAMENT,lots,12/01/2010 08:34,1.69,13047,United Kingdom
536368,22960,broken row,3
`

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newLoader(db *database.DB) *Loader {
	return NewLoader(db, lineage.New(db, lineage.DefaultWindows(), nil), metrics.New(), nil)
}

func TestCSVSource(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader(export))
	require.NoError(t, err)

	first, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "536365", *first.InvoiceNo)
	assert.Equal(t, 6, *first.Quantity)
	assert.Equal(t, 2.55, *first.UnitPrice)
	assert.Equal(t, "17850.0", *first.CustomerID)
	assert.Equal(t, "2010-12-01 08:26:00", *first.InvoiceDate)

	second, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, -1, *second.Quantity)
	assert.Equal(t, "2010-12-02 00:00:00", *second.InvoiceDate)

	guest, err := src.Next()
	require.NoError(t, err)
	assert.Nil(t, guest.CustomerID)
	assert.Equal(t, "HAND WARMER UNION JACK", *guest.Description)

	badQty, err := src.Next()
	require.NoError(t, err)
	assert.Nil(t, badQty.Quantity)

	_, err = src.Next()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = src.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCSVSourceHeader(t *testing.T) {
	_, err := NewCSVSource(strings.NewReader("InvoiceNo,StockCode\n1,2\n"))
	assert.ErrorContains(t, err, "Description")

	_, err = NewCSVSource(strings.NewReader(""))
	assert.Error(t, err)

	reordered := "\ufeffcountry,customerid,unitprice,invoicedate,quantity,description,stockcode,invoiceno\n" +
		"France,12680,4.15,2011-12-09 12:50:00,4,BELL,23256,581587\n"
	src, err := NewCSVSource(strings.NewReader(reordered))
	require.NoError(t, err)
	rec, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "581587", *rec.InvoiceNo)
	assert.Equal(t, "France", *rec.Country)
}

func TestLoadReplaceAndAppend(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := newLoader(db)

	res, err := l.Load(ctx, strings.NewReader(export), Replace)
	require.NoError(t, err)
	assert.Equal(t, &Result{Rows: 4, Malformed: 1}, res)

	res, err = l.Load(ctx, strings.NewReader(export), Append)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rows)

	n, err := db.CountRows(ctx, Table)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	fresh, err := db.ListFreshness(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, Table, fresh[0].Table)
	assert.Equal(t, 8, fresh[0].RowCount)
	assert.Equal(t, lineage.RefreshIncremental, fresh[0].RefreshType)

	_, err = l.Load(ctx, strings.NewReader(export), Replace)
	require.NoError(t, err)
	n, err = db.CountRows(ctx, Table)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("append")
	require.NoError(t, err)
	assert.Equal(t, Append, m)

	_, err = ParseMode("upsert")
	assert.Error(t, err)
}
