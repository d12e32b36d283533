package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/config"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/pipeline"
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

func newTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	db := openTestDB(t)
	m := metrics.New()
	p, err := pipeline.New(config.Default(), db, nil, m)
	require.NoError(t, err)
	srv, err := New(db, p, m, nil)
	require.NoError(t, err)
	return srv, db
}

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	var recs []database.RawRecord
	for i := 0; i < 12; i++ {
		rec := database.RawRecord{
			InvoiceNo:   ptr(fmt.Sprintf("5363%02d", i/2)),
			StockCode:   ptr(fmt.Sprintf("SKU%d", i%3)),
			Description: ptr("ITEM"),
			Quantity:    ptr(1 + i%4),
			UnitPrice:   ptr(2.5),
			Country:     ptr("United Kingdom"),
			InvoiceDate: ptr(fmt.Sprintf("2010-12-%02d 09:%02d:00", 1+i%4, i)),
		}
		if i%4 != 0 {
			rec.CustomerID = ptr(fmt.Sprintf("%d", 17850+i%3))
		}
		recs = append(recs, rec)
	}
	_, err := db.InsertRawRecords(context.Background(), recs, true)
	require.NoError(t, err)
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIndexWithoutRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "No pipeline runs recorded yet.")
}

func TestStaticCSS(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/static/style.css", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "font-sans")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["database_connected"])
}

func TestRunAndReport(t *testing.T) {
	srv, db := newTestServer(t)
	seed(t, db)

	rec := do(t, srv, http.MethodPost, "/api/run?source=export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[runResponse](t, rec)
	assert.Equal(t, int64(1), run.RunID)
	assert.NotEmpty(t, run.RunKey)
	assert.Len(t, run.Stages, 12)
	assert.Len(t, run.Checks, 8)
	assert.Empty(t, run.Error)

	rec = do(t, srv, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]database.PipelineRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "export.csv", *runs[0].SourceLabel)

	rec = do(t, srv, http.MethodGet, "/api/runs/1/checks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]database.QualityCheckResult](t, rec), 8)

	rec = do(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "Pipeline run 1")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "mart_daily_kpis")

	rec = do(t, srv, http.MethodGet, "/runs/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/runs/1"`)

	rec = do(t, srv, http.MethodGet, "/api/freshness", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 12)

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "retailetl_runs_total")
}

func TestRunCriticalFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	run := decode[runResponse](t, rec)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.Contains(t, run.Error, "critical quality check failed")
}

func TestRunLookupErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/runs/42/checks", http.StatusNotFound},
		{"/api/runs/abc/checks", http.StatusBadRequest},
		{"/api/runs?limit=0", http.StatusBadRequest},
		{"/runs/42", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStageEndpoint(t *testing.T) {
	srv, db := newTestServer(t)
	seed(t, db)

	rec := do(t, srv, http.MethodPost, "/api/stages/cleanse", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[runResponse](t, rec)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, pipeline.StageCleanse, run.Stages[0].Stage)
	assert.Equal(t, 12, run.Stages[0].Rows)

	rec = do(t, srv, http.MethodPost, "/api/stages/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	srv, db := newTestServer(t)
	seed(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, target := range []string{"/api/stages/cleanse", "/api/run"} {
		req := httptest.NewRequest(http.MethodPost, target, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		run := decode[runResponse](t, rec)
		assert.NotEqual(t, database.RunFailed, run.Status, target)
		assert.Empty(t, run.Error, target)

		stored, err := db.GetRun(context.Background(), run.RunID)
		require.NoError(t, err)
		assert.NotEqual(t, database.RunRunning, stored.Status, target)
		assert.NotEqual(t, database.RunFailed, stored.Status, target)
	}
}

func TestPredictionBoundary(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/kpis/daily?metric=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/kpis/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "total_revenue", decode[map[string]any](t, rec)["metric"])

	anomalies := `[
		{"anomaly_date":"2011-12-01","metric_name":"total_revenue","actual_value":120,"expected_value":60,"anomaly_type":"spike","severity":"high"},
		{"anomaly_date":"2011-12-02","metric_name":"total_revenue","actual_value":10,"expected_value":60,"anomaly_type":"drop","severity":"low"}
	]`
	rec = do(t, srv, http.MethodPost, "/api/anomalies", anomalies)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[map[string]int](t, rec)["saved"])

	rec = do(t, srv, http.MethodPost, "/api/anomalies",
		`[{"anomaly_date":"2011-12-03","metric_name":"total_revenue","anomaly_type":"wobble","severity":"low"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/anomalies/2011-12-01/total_revenue/ack", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/anomalies/2011-12-09/total_revenue/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/anomalies/active?since=2011-11-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]database.Anomaly](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, "2011-12-02", active[0].Date)

	forecasts := `[{"forecast_date":"2012-01-01","metric_name":"total_orders","predicted_value":40,"lower_bound":30,"upper_bound":50,"model_name":"prophet","model_version":"1"}]`
	rec = do(t, srv, http.MethodPost, "/api/forecasts", forecasts)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/forecasts?from=2011-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]database.Forecast](t, rec), 1)
}
