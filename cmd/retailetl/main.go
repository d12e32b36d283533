package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/config"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/ingest"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/metrics"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/pipeline"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/predict"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/quality"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/report"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	stats      = metrics.New()
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "retailetl",
	Short:   "Retail warehouse ETL",
	Long:    "retailetl lands transaction exports, refreshes the star schema and marts, and gates each run on data quality checks.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(checksCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(freshnessCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(anomaliesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("retailetl", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/retailetl/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the warehouse location, quality thresholds, and prediction service.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse and latest run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		fmt.Printf("Warehouse: %s\n\n", db.Path())
		fmt.Println("Tables:")
		for _, table := range []string{
			ingest.Table,
			"stg_transactions_clean",
			"fact_sales",
			"mart_daily_kpis",
			"mart_rfm",
		} {
			n, err := db.CountRows(ctx, table)
			if err != nil {
				return fmt.Errorf("counting %s: %w", table, err)
			}
			fmt.Printf("  %-24s %d\n", table, n)
		}

		run, err := db.LatestRun(ctx)
		if err != nil {
			return err
		}
		fmt.Println("\nLatest run:")
		if run == nil {
			fmt.Println("  none. Load an export with: retailetl ingest <file.csv> --run")
			return nil
		}
		fmt.Printf("  [%d] %s %s\n", run.ID, run.Type, colorStatus(string(run.Status)))
		fmt.Printf("  Started: %s\n", run.StartedAt)
		if run.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", *run.CompletedAt)
		}
		if run.ErrorMessage != nil {
			fmt.Printf("  Error: %s\n", *run.ErrorMessage)
		}
		return nil
	},
}

// --- ingest command ---

var (
	ingestAppend bool
	ingestRun    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Load a transaction export into the landing table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening export: %w", err)
		}
		defer f.Close()

		mode := ingest.Replace
		if ingestAppend {
			mode = ingest.Append
		}
		recorder := lineage.New(db, cfg.Windows(), logger)
		res, err := ingest.NewLoader(db, recorder, stats, logger).Load(cmd.Context(), f, mode)
		if err != nil {
			return err
		}

		fmt.Printf("Loaded %d rows into %s (%s)\n", res.Rows, ingest.Table, mode)
		if res.Malformed > 0 {
			fmt.Println(color.YellowString("Skipped %d malformed rows", res.Malformed))
		}

		if !ingestRun {
			return nil
		}
		fmt.Println()
		return runPipeline(cmd.Context(), db, filepath.Base(args[0]))
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestAppend, "append", false, "Append to the landing table instead of replacing it")
	ingestCmd.Flags().BoolVar(&ingestRun, "run", false, "Run the full pipeline after loading")
}

// --- run command ---

var (
	failOnCritical bool
	sequential     bool
	sourceLabel    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: cleanse -> dimensions -> facts -> marts -> quality gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if cmd.Flags().Changed("fail-on-critical") {
			cfg.Pipeline.FailOnCritical = failOnCritical
		}
		if sequential {
			cfg.Pipeline.Parallel = false
		}
		return runPipeline(cmd.Context(), db, sourceLabel)
	},
}

func init() {
	runCmd.Flags().BoolVar(&failOnCritical, "fail-on-critical", true, "Fail the run when a critical quality check fails")
	runCmd.Flags().BoolVar(&sequential, "sequential", false, "Run the stages of each layer one at a time")
	runCmd.Flags().StringVar(&sourceLabel, "source", "", "Label recorded on the run, such as the export file name")
}

func runPipeline(ctx context.Context, db *database.DB, label string) error {
	p, err := pipeline.New(cfg, db, logger, stats)
	if err != nil {
		return err
	}

	fmt.Println("Running full pipeline...")
	for i, layer := range p.Plan() {
		fmt.Printf("  Layer %d: %s\n", i+1, strings.Join(layer, ", "))
	}

	res, err := p.RunFullPipeline(ctx, label)
	if res != nil {
		fmt.Println()
		printResult(res)
	}
	if err != nil {
		return err
	}
	fmt.Println("\nPipeline complete! Run 'retailetl report' for the full run report.")
	return nil
}

// --- stage command ---

var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Run a single stage as a manual run",
	Long:  "Run a single stage as a manual run. Stages: " + strings.Join(stageNames(), ", "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := pipeline.New(cfg, db, logger, stats)
		if err != nil {
			return err
		}
		res, err := p.RunStage(cmd.Context(), args[0])
		if errors.Is(err, pipeline.ErrUnknownStage) {
			return fmt.Errorf("unknown stage %q; valid stages: %s", args[0], strings.Join(p.StageNames(), ", "))
		}
		if res != nil {
			printResult(res)
		}
		return err
	},
}

// stageNames lists stages for help text without touching a database.
func stageNames() []string {
	return []string{
		pipeline.StageDates, pipeline.StageCleanse,
		pipeline.StageCountries, pipeline.StageProducts, pipeline.StageCustomers,
		pipeline.StageFacts,
		pipeline.StageDailyKPIs, pipeline.StageRFM, pipeline.StageCountryPerformance,
		pipeline.StageProductPerformance, pipeline.StageMonthlyTrends,
		pipeline.StageQualityGate,
	}
}

func printResult(res *pipeline.Result) {
	fmt.Printf("Run %d (%s): %s\n\n", res.RunID, res.RunKey, colorStatus(string(res.Status)))

	table := newTable([]string{"Stage", "Table", "Rows", "Duration", "Status"})
	for _, s := range res.Summaries {
		table.Append([]string{
			s.Stage,
			s.Table,
			strconv.Itoa(s.Rows),
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
			colorStatus(s.Status),
		})
	}
	table.Render()

	if len(res.Checks) > 0 {
		fmt.Printf("\nQuality gate: %d of %d checks failed\n", quality.FailedCount(res.Checks), len(res.Checks))
		for _, c := range res.Checks {
			if !c.Passed {
				fmt.Printf("  %s %s (%s): got %s, expected %s\n",
					color.RedString("FAIL"), c.Name, c.Severity, c.Actual, c.Expected)
			}
		}
	}
}

// --- checks command ---

var checksCmd = &cobra.Command{
	Use:   "checks [run-id]",
	Short: "Show quality check results for a run (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		run, err := resolveRun(ctx, db, args)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Println("No pipeline runs recorded yet.")
			return nil
		}

		checks, err := db.ListCheckResults(ctx, run.ID)
		if err != nil {
			return err
		}
		if len(checks) == 0 {
			fmt.Printf("Run %d did not run the quality gate.\n", run.ID)
			return nil
		}

		fmt.Printf("Run %d: %s\n\n", run.ID, colorStatus(string(run.Status)))
		table := newTable([]string{"Check", "Table", "Severity", "Result", "Actual", "Expected"})
		for _, c := range checks {
			result := color.GreenString("pass")
			if !c.Passed {
				result = color.RedString("FAIL")
			}
			table.Append([]string{c.Name, c.Table, string(c.Severity), result, c.Actual, c.Expected})
		}
		table.Render()
		return nil
	},
}

func resolveRun(ctx context.Context, db *database.DB, args []string) (*database.PipelineRun, error) {
	if len(args) == 0 {
		return db.LatestRun(ctx)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid run ID: %s", args[0])
	}
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return run, nil
}

// --- runs command ---

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No pipeline runs recorded yet.")
			return nil
		}

		table := newTable([]string{"Run", "Type", "Source", "Status", "Started", "Stages", "Rows"})
		for _, r := range runs {
			source := ""
			if r.SourceLabel != nil {
				source = *r.SourceLabel
			}
			table.Append([]string{
				strconv.FormatInt(r.ID, 10),
				r.Type,
				source,
				colorStatus(string(r.Status)),
				r.StartedAt,
				strconv.Itoa(r.StagesCompleted),
				strconv.Itoa(r.RowsProcessed),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
}

// --- freshness command ---

var freshnessCmd = &cobra.Command{
	Use:   "freshness",
	Short: "Show when each warehouse table was last refreshed",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		statuses, err := lineage.New(db, cfg.Windows(), logger).Freshness(cmd.Context())
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No tables refreshed yet.")
			return nil
		}

		table := newTable([]string{"Table", "Last refresh", "Age", "Rows", "Refresh", "Status"})
		for _, s := range statuses {
			table.Append([]string{
				s.Table,
				s.LastRefreshAt,
				s.Age.Round(time.Second).String(),
				strconv.Itoa(s.RowCount),
				s.RefreshType,
				colorStatus(string(s.Status)),
			})
		}
		table.Render()
		return nil
	},
}

// --- report command ---

var reportOut string

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Write a markdown report for a run (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		run, err := resolveRun(ctx, db, args)
		if err != nil {
			return err
		}
		stages, err := report.ParseStages(run)
		if err != nil {
			return err
		}
		var checks []database.QualityCheckResult
		if run != nil {
			if checks, err = db.ListCheckResults(ctx, run.ID); err != nil {
				return err
			}
		}
		freshness, err := lineage.New(db, cfg.Windows(), logger).Freshness(ctx)
		if err != nil {
			return err
		}

		body := report.Compose(run, stages, checks, freshness)
		if reportOut == "" {
			fmt.Print(body)
			return nil
		}
		if err := os.WriteFile(reportOut, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOut)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Write the report to a file instead of stdout")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server and API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := pipeline.New(cfg, db, logger, stats)
		if err != nil {
			return err
		}
		srv, err := server.New(db, p, stats, logger)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to run server on")
}

// --- anomalies command ---

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Review anomalies flagged by the prediction service",
}

var anomaliesSince string

var anomaliesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unacknowledged anomalies",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := store.ActiveAnomalies(cmd.Context(), anomaliesSince)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No active anomalies.")
			return nil
		}

		table := newTable([]string{"Date", "Metric", "Type", "Severity", "Actual", "Expected", "Deviation"})
		for _, a := range items {
			severity := a.Severity
			switch severity {
			case "critical", "high":
				severity = color.RedString(severity)
			case "medium":
				severity = color.YellowString(severity)
			}
			table.Append([]string{
				a.Date,
				a.Metric,
				a.Type,
				severity,
				strconv.FormatFloat(a.Actual, 'f', 2, 64),
				strconv.FormatFloat(a.Expected, 'f', 2, 64),
				strconv.FormatFloat(a.DeviationPct, 'f', 1, 64) + "%",
			})
		}
		table.Render()
		return nil
	},
}

var ackBy string

var anomaliesAckCmd = &cobra.Command{
	Use:   "ack <date> <metric>",
	Short: "Acknowledge an anomaly",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		err = store.Acknowledge(cmd.Context(), args[0], args[1], ackBy)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no anomaly for %s on %s", args[1], args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("Acknowledged %s anomaly on %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	anomaliesListCmd.Flags().StringVar(&anomaliesSince, "since", "", "Only show anomalies on or after this date (YYYY-MM-DD)")
	anomaliesAckCmd.Flags().StringVar(&ackBy, "by", "", "Name recorded as the acknowledger")

	anomaliesCmd.AddCommand(anomaliesListCmd)
	anomaliesCmd.AddCommand(anomaliesAckCmd)
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath(), database.WithLogger(logger))
}

func openStore() (*predict.Store, *database.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	return predict.NewStore(db, lineage.New(db, cfg.Windows(), logger), logger), db, nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func colorStatus(status string) string {
	switch status {
	case string(database.RunSuccess), string(lineage.Fresh):
		return color.GreenString(status)
	case string(database.RunWarning), string(lineage.Stale):
		return color.YellowString(status)
	case string(database.RunFailed), string(lineage.Outdated):
		return color.RedString(status)
	}
	return status
}
