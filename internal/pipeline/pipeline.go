// Package pipeline drives the warehouse refresh graph: cleansing, dimensions,
// facts, marts and the quality gate, recorded as one pipeline run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/cleanse"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/config"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/dimension"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/fact"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/mart"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/predict"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/quality"
)

// ErrRunInProgress is returned when a run is requested while another is in flight.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Stage names.
const (
	StageDates              = "dim_date"
	StageCleanse            = "cleanse"
	StageCountries          = "dim_country"
	StageProducts           = "dim_product"
	StageCustomers          = "dim_customer"
	StageFacts              = "fact_sales"
	StageDailyKPIs          = "mart_daily_kpis"
	StageRFM                = "mart_rfm"
	StageCountryPerformance = "mart_country_performance"
	StageProductPerformance = "mart_product_performance"
	StageMonthlyTrends      = "mart_monthly_trends"
	StageQualityGate        = "quality_gate"
)

// Stage outcomes reported in summaries.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RunSummary is the outcome of one stage within a run.
type RunSummary struct {
	Stage      string `json:"stage"`
	Table      string `json:"table"`
	Rows       int    `json:"rows"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
}

// Trainer retrains the external prediction models.
type Trainer interface {
	Train(ctx context.Context) (*predict.TrainResult, error)
}

// Result holds the outcome of a run.
type Result struct {
	RunID     int64
	RunKey    string
	Status    database.RunStatus
	Summaries []RunSummary
	Checks    []quality.CheckResult
}

// runState is shared by the stages of one run.
type runState struct {
	runID          int64
	failOnCritical bool

	mu     sync.Mutex
	checks []quality.CheckResult
}

// Pipeline orchestrates the refresh graph.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	recorder *lineage.Recorder
	gate     *quality.Gate
	metrics  *metrics.Pipeline
	trainer  Trainer
	log      *zap.Logger

	stages []*Stage
	layers [][]*Stage
	mu     sync.Mutex
}

// New creates a pipeline. metrics may be nil.
func New(cfg *config.Config, db *database.DB, log *zap.Logger, m *metrics.Pipeline) (*Pipeline, error) {
	start, end, err := cfg.DateRange()
	if err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	p := &Pipeline{
		cfg:      cfg,
		db:       db,
		recorder: lineage.New(db, cfg.Windows(), log),
		gate:     quality.New(db, cfg.Thresholds(), log),
		metrics:  m,
		log:      log.Named("pipeline"),
	}
	if cfg.Prediction.Enabled && cfg.Prediction.TriggerAfterRun {
		p.trainer = predict.NewClient(cfg.Prediction.URL, cfg.Prediction.Timeout, log)
	}

	p.stages = p.graph(start, end, log)
	p.layers, err = Layers(p.stages)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetTrainer replaces the post-run training trigger. nil disables it.
func (p *Pipeline) SetTrainer(t Trainer) {
	p.trainer = t
}

// Recorder returns the run-lineage recorder used by the pipeline.
func (p *Pipeline) Recorder() *lineage.Recorder {
	return p.recorder
}

// Plan returns the stage names of each execution layer.
func (p *Pipeline) Plan() [][]string {
	out := make([][]string, len(p.layers))
	for i, layer := range p.layers {
		for _, s := range layer {
			out[i] = append(out[i], s.Name)
		}
	}
	return out
}

// StageNames returns every stage in declaration order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

func (p *Pipeline) graph(start, end time.Time, log *zap.Logger) []*Stage {
	cleanser := cleanse.New(p.db, log)
	dims := dimension.New(p.db, log)
	facts := fact.New(p.db, log)
	marts := mart.New(p.db, log)

	plain := func(fn func(context.Context) (int, error)) func(context.Context, *runState) (int, error) {
		return func(ctx context.Context, _ *runState) (int, error) { return fn(ctx) }
	}
	beforeFacts := []string{StageDates, StageCountries, StageProducts, StageCustomers}
	afterFacts := []string{StageFacts}

	return []*Stage{
		{Name: StageDates, Table: dimension.DateTable, run: func(ctx context.Context, _ *runState) (int, error) {
			return dims.SeedDates(ctx, start, end)
		}},
		{Name: StageCleanse, Table: cleanse.Table, run: func(ctx context.Context, _ *runState) (int, error) {
			res, err := cleanser.Run(ctx)
			if err != nil {
				return 0, err
			}
			return res.Written, nil
		}},
		{Name: StageCountries, Table: dimension.CountryTable, After: []string{StageCleanse}, run: plain(dims.RefreshCountries)},
		{Name: StageProducts, Table: dimension.ProductTable, After: []string{StageCleanse}, run: plain(dims.RefreshProducts)},
		{Name: StageCustomers, Table: dimension.CustomerTable, After: []string{StageCleanse}, run: plain(dims.RefreshCustomers)},
		{Name: StageFacts, Table: fact.Table, After: beforeFacts, run: plain(facts.Run)},
		{Name: StageDailyKPIs, Table: mart.DailyKPITable, After: afterFacts, run: plain(marts.RefreshDailyKPIs)},
		{Name: StageRFM, Table: mart.RFMTable, After: afterFacts, run: plain(marts.RefreshRFM)},
		{Name: StageCountryPerformance, Table: mart.CountryPerformanceTable, After: afterFacts, run: plain(marts.RefreshCountryPerformance)},
		{Name: StageProductPerformance, Table: mart.ProductPerformanceTable, After: afterFacts, run: plain(marts.RefreshProductPerformance)},
		{Name: StageMonthlyTrends, Table: mart.MonthlyTrendsTable, After: afterFacts, run: plain(marts.RefreshMonthlyTrends)},
		{
			Name:  StageQualityGate,
			Table: "quality_check_results",
			After: []string{StageDates, StageDailyKPIs, StageRFM, StageCountryPerformance, StageProductPerformance, StageMonthlyTrends},
			run:   p.runGate,
		},
	}
}

func (p *Pipeline) runGate(ctx context.Context, st *runState) (int, error) {
	results, err := p.gate.RunChecks(ctx, st.runID, st.failOnCritical)
	st.mu.Lock()
	st.checks = results
	st.mu.Unlock()
	for _, r := range results {
		if !r.Passed {
			p.metrics.CheckFailed(r.Name, string(r.Severity))
		}
	}
	return len(results), err
}

// RunFullPipeline executes every stage in dependency order as one etl_full run.
func (p *Pipeline) RunFullPipeline(ctx context.Context, sourceLabel string) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	runID, runKey, err := p.recorder.BeginRun(ctx, lineage.RunTypeFull, sourceLabel)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.Int64("run_id", runID), zap.String("run_key", runKey))
	log.Info("full pipeline started",
		zap.String("source", sourceLabel),
		zap.Bool("parallel", p.cfg.Pipeline.Parallel),
		zap.Int("layers", len(p.layers)))

	st := &runState{runID: runID, failOnCritical: p.cfg.Pipeline.FailOnCritical}
	res := &Result{RunID: runID, RunKey: runKey}

	for i, layer := range p.layers {
		summaries, err := p.runLayer(ctx, log, layer, st, lineage.RefreshFull)
		res.Summaries = append(res.Summaries, summaries...)
		if err != nil {
			log.Error("layer failed", zap.Int("layer", i), zap.Error(err))
			return p.fail(ctx, lineage.RunTypeFull, res, st, err)
		}
	}

	res.Checks = st.checks
	res.Status = quality.Status(st.checks)
	if err := p.recorder.CompleteRun(ctx, runID, metadataFor(res, p.cfg.Pipeline.Parallel)); err != nil {
		log.Error("closing run failed", zap.Error(err))
		return p.fail(ctx, lineage.RunTypeFull, res, st, err)
	}
	p.metrics.RunFinished(lineage.RunTypeFull, string(res.Status))
	log.Info("full pipeline finished",
		zap.String("status", string(res.Status)),
		zap.Int("stages", len(res.Summaries)),
		zap.Int("failed_checks", quality.FailedCount(res.Checks)))

	if res.Status != database.RunFailed {
		p.triggerTraining(ctx)
	}
	return res, nil
}

// RunStage executes one stage on its own as a manual run. The quality gate
// runs as a manual_dq run and records a failed status without escalating.
func (p *Pipeline) RunStage(ctx context.Context, name string) (*Result, error) {
	var stage *Stage
	for _, s := range p.stages {
		if s.Name == name {
			stage = s
		}
	}
	if stage == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStage)
	}
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	runType := lineage.RunTypeManualStage
	if name == StageQualityGate {
		runType = lineage.RunTypeManualDQ
	}
	runID, runKey, err := p.recorder.BeginRun(ctx, runType, name)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.Int64("run_id", runID), zap.String("run_key", runKey))

	st := &runState{runID: runID}
	res := &Result{RunID: runID, RunKey: runKey}
	summary, err := p.runOne(ctx, log, stage, st, lineage.RefreshManual)
	res.Summaries = []RunSummary{summary}
	if err != nil {
		return p.fail(ctx, runType, res, st, err)
	}

	res.Checks = st.checks
	res.Status = quality.Status(st.checks)
	if err := p.recorder.CompleteRun(ctx, runID, metadataFor(res, false)); err != nil {
		log.Error("closing run failed", zap.Error(err))
		return p.fail(ctx, runType, res, st, err)
	}
	p.metrics.RunFinished(runType, string(res.Status))
	return res, nil
}

// runLayer runs the stages of one layer, concurrently when configured.
// Every stage of the layer runs to completion; the first error is returned.
func (p *Pipeline) runLayer(ctx context.Context, log *zap.Logger, layer []*Stage, st *runState, refreshType string) ([]RunSummary, error) {
	summaries := make([]RunSummary, len(layer))
	if !p.cfg.Pipeline.Parallel || len(layer) == 1 {
		var first error
		for i, s := range layer {
			var err error
			summaries[i], err = p.runOne(ctx, log, s, st, refreshType)
			if err != nil && first == nil {
				first = err
			}
		}
		return summaries, first
	}

	var g errgroup.Group
	for i, s := range layer {
		g.Go(func() error {
			var err error
			summaries[i], err = p.runOne(ctx, log, s, st, refreshType)
			return err
		})
	}
	return summaries, g.Wait()
}

// runOne executes a stage and records its freshness on the run.
func (p *Pipeline) runOne(ctx context.Context, log *zap.Logger, s *Stage, st *runState, refreshType string) (RunSummary, error) {
	log.Info("stage started", zap.String("stage", s.Name), zap.String("table", s.Table))
	start := time.Now()
	rows, err := s.run(ctx, st)
	elapsed := time.Since(start)

	summary := RunSummary{Stage: s.Name, Table: s.Table, Rows: rows, DurationMs: elapsed.Milliseconds(), Status: StatusSuccess}
	gateTripped := errors.Is(err, quality.ErrCriticalCheckFailed)
	if err != nil && !gateTripped {
		summary.Status = StatusFailed
		p.metrics.StageFailed(s.Name)
		log.Error("stage failed", zap.String("stage", s.Name), zap.Duration("duration", elapsed), zap.Error(err))
		return summary, fmt.Errorf("stage %s: %w", s.Name, err)
	}
	if s.Name == StageQualityGate {
		summary.Status = string(quality.Status(st.checks))
	}

	if recErr := p.recorder.RecordStage(ctx, st.runID, s.Table, rows, elapsed, refreshType); recErr != nil {
		summary.Status = StatusFailed
		return summary, fmt.Errorf("stage %s: %w", s.Name, recErr)
	}
	p.metrics.ObserveStage(s.Name, rows, elapsed)
	log.Info("stage finished",
		zap.String("stage", s.Name),
		zap.String("table", s.Table),
		zap.Int("rows", rows),
		zap.Duration("duration", elapsed))

	if gateTripped {
		return summary, fmt.Errorf("stage %s: %w", s.Name, err)
	}
	return summary, nil
}

// fail closes the run as failed and returns the stage error.
func (p *Pipeline) fail(ctx context.Context, runType string, res *Result, st *runState, cause error) (*Result, error) {
	res.Status = database.RunFailed
	res.Checks = st.checks
	if err := p.recorder.FailRun(context.WithoutCancel(ctx), res.RunID, cause.Error()); err != nil {
		p.log.Error("recording run failure", zap.Int64("run_id", res.RunID), zap.Error(err))
	}
	p.metrics.RunFinished(runType, string(database.RunFailed))
	return res, cause
}

func (p *Pipeline) triggerTraining(ctx context.Context) {
	if p.trainer == nil {
		return
	}
	if _, err := p.trainer.Train(ctx); err != nil {
		p.log.Warn("prediction retraining failed", zap.Error(err))
	}
}

type checkVerdict struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity"`
	Actual   string `json:"actual"`
}

type runMetadata struct {
	Parallel bool           `json:"parallel"`
	Stages   []RunSummary   `json:"stages"`
	Checks   []checkVerdict `json:"checks,omitempty"`
}

func metadataFor(res *Result, parallel bool) runMetadata {
	md := runMetadata{Parallel: parallel, Stages: res.Summaries}
	for _, c := range res.Checks {
		md.Checks = append(md.Checks, checkVerdict{
			Name:     c.Name,
			Passed:   c.Passed,
			Severity: string(c.Severity),
			Actual:   c.Actual,
		})
	}
	return md
}
