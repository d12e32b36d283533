package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/pipeline"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/predict"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/quality"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Server is the operator HTTP surface of the warehouse.
type Server struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	recorder *lineage.Recorder
	store    *predict.Store
	metrics  *metrics.Pipeline
	log      *zap.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, p *pipeline.Pipeline, m *metrics.Pipeline, log *zap.Logger) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"report.html", "runs.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	log = logging.OrNop(log)
	recorder := p.Recorder()
	s := &Server{
		db:       db,
		pipeline: p,
		recorder: recorder,
		store:    predict.NewStore(db, recorder, log),
		metrics:  m,
		log:      log.Named("server"),
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /runs", s.handleRunsPage)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRunPage)

	// Pipeline
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/freshness", s.handleFreshness)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}/checks", s.handleRunChecks)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("POST /api/stages/{name}", s.handleStage)

	// Prediction boundary
	s.mux.HandleFunc("GET /api/kpis/daily", s.handleDailySeries)
	s.mux.HandleFunc("GET /api/forecasts", s.handleForecasts)
	s.mux.HandleFunc("POST /api/forecasts", s.handleSaveForecasts)
	s.mux.HandleFunc("POST /api/anomalies", s.handleSaveAnomalies)
	s.mux.HandleFunc("GET /api/anomalies/active", s.handleActiveAnomalies)
	s.mux.HandleFunc("POST /api/anomalies/{date}/{metric}/ack", s.handleAcknowledge)

	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.LatestRun(r.Context())
	if err != nil {
		s.internalError(w, "loading latest run", err)
		return
	}
	s.renderReport(w, r, run)
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	run, err := s.db.GetRun(r.Context(), id)
	if err != nil {
		s.internalError(w, "loading run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	s.renderReport(w, r, run)
}

func (s *Server) renderReport(w http.ResponseWriter, r *http.Request, run *database.PipelineRun) {
	ctx := r.Context()
	stages, err := report.ParseStages(run)
	if err != nil {
		s.log.Warn("run metadata unreadable", zap.Error(err))
	}
	var checks []database.QualityCheckResult
	if run != nil {
		if checks, err = s.db.ListCheckResults(ctx, run.ID); err != nil {
			s.internalError(w, "loading checks", err)
			return
		}
	}
	freshness, err := s.recorder.Freshness(ctx)
	if err != nil {
		s.internalError(w, "loading freshness", err)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Run":    run,
		"Report": report.Compose(run, stages, checks, freshness),
	})
}

func (s *Server) handleRunsPage(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(r.Context(), 50)
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	s.render(w, "runs.html", map[string]any{
		"Runs":   runs,
		"Stages": s.pipeline.StageNames(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "database_connected": false})
		return
	}
	body := map[string]any{"status": "healthy", "database_connected": true}
	if run, err := s.db.LatestRun(r.Context()); err == nil && run != nil {
		body["latest_run"] = run
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.recorder.Freshness(r.Context())
	if err != nil {
		s.internalError(w, "loading freshness", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		s.internalError(w, "listing runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id %q", r.PathValue("id")))
		return
	}
	run, err := s.db.GetRun(r.Context(), id)
	if err != nil {
		s.internalError(w, "loading run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %d: %w", id, database.ErrNotFound))
		return
	}
	checks, err := s.db.ListCheckResults(r.Context(), id)
	if err != nil {
		s.internalError(w, "loading checks", err)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

type runResponse struct {
	RunID      int64                 `json:"run_id"`
	RunKey     string                `json:"run_key"`
	Status     database.RunStatus    `json:"status"`
	Stages     []pipeline.RunSummary `json:"stages"`
	Checks     []quality.CheckResult `json:"checks,omitempty"`
	Error      string                `json:"error,omitempty"`
	FinishedAt string                `json:"finished_at"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// Runs are not tied to the client connection.
	res, err := s.pipeline.RunFullPipeline(context.WithoutCancel(r.Context()), r.FormValue("source"))
	s.writeRun(w, res, err)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.RunStage(context.WithoutCancel(r.Context()), r.PathValue("name"))
	if errors.Is(err, pipeline.ErrUnknownStage) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeRun(w, res, err)
}

func (s *Server) writeRun(w http.ResponseWriter, res *pipeline.Result, err error) {
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if res == nil {
		s.internalError(w, "starting run", err)
		return
	}

	body := runResponse{
		RunID:      res.RunID,
		RunKey:     res.RunKey,
		Status:     res.Status,
		Stages:     res.Summaries,
		Checks:     res.Checks,
		FinishedAt: time.Now().UTC().Format(database.TimeLayout),
	}
	status := http.StatusOK
	switch {
	case errors.Is(err, quality.ErrCriticalCheckFailed):
		body.Error = err.Error()
		status = http.StatusUnprocessableEntity
	case err != nil:
		body.Error = err.Error()
		status = http.StatusInternalServerError
		s.log.Error("pipeline run failed", zap.Int64("run_id", res.RunID), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (s *Server) handleDailySeries(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "total_revenue"
	}
	series, err := s.store.DailySeries(r.Context(), metric)
	if errors.Is(err, predict.ErrInvalidRecord) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.internalError(w, "loading series", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "points": series})
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	forecasts, err := s.store.LatestForecasts(r.Context(), r.URL.Query().Get("from"))
	if err != nil {
		s.internalError(w, "loading forecasts", err)
		return
	}
	writeJSON(w, http.StatusOK, forecasts)
}

func (s *Server) handleSaveForecasts(w http.ResponseWriter, r *http.Request) {
	var forecasts []database.Forecast
	if err := json.NewDecoder(r.Body).Decode(&forecasts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding forecasts: %w", err))
		return
	}
	n, err := s.store.SaveForecasts(r.Context(), forecasts)
	s.writeSaved(w, n, err)
}

func (s *Server) handleSaveAnomalies(w http.ResponseWriter, r *http.Request) {
	var anomalies []database.Anomaly
	if err := json.NewDecoder(r.Body).Decode(&anomalies); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding anomalies: %w", err))
		return
	}
	n, err := s.store.SaveAnomalies(r.Context(), anomalies)
	s.writeSaved(w, n, err)
}

func (s *Server) writeSaved(w http.ResponseWriter, n int, err error) {
	if errors.Is(err, predict.ErrInvalidRecord) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.internalError(w, "saving predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": n})
}

func (s *Server) handleActiveAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.store.ActiveAnomalies(r.Context(), r.URL.Query().Get("since"))
	if err != nil {
		s.internalError(w, "loading anomalies", err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	err := s.store.Acknowledge(r.Context(), r.PathValue("date"), r.PathValue("metric"), r.FormValue("by"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.internalError(w, "acknowledging anomaly", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.log.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and shuts it down when ctx ends.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("server listening", zap.String("url", "http://"+addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
