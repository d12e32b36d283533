package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Severity levels re-exported for callers that only import quality.
const (
	Info     = database.SeverityInfo
	Warning  = database.SeverityWarning
	Critical = database.SeverityCritical
)

// ErrCriticalCheckFailed is returned by RunChecks when a critical check fails
// and the caller asked to fail on critical.
var ErrCriticalCheckFailed = errors.New("critical quality check failed")

// Thresholds are the tunable expectations of the check battery.
type Thresholds struct {
	MinRetentionRatio  float64
	CustomerNullMin    float64
	CustomerNullMax    float64
	MaxDuplicateGroups int
}

// DefaultThresholds returns the thresholds tuned for the reference retail export.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRetentionRatio:  0.85,
		CustomerNullMin:    0.15,
		CustomerNullMax:    0.35,
		MaxDuplicateGroups: 1000,
	}
}

// CheckResult is the verdict of one check.
type CheckResult struct {
	Name     string            `json:"check_name"`
	Table    string            `json:"table_name"`
	Passed   bool              `json:"passed"`
	Severity database.Severity `json:"severity"`
	Actual   string            `json:"actual_value"`
	Expected string            `json:"expected_value"`
}

// Check is one named expectation over the warehouse.
type Check struct {
	Name     string
	Table    string
	Severity database.Severity
	eval     func(ctx context.Context) (passed bool, actual, expected string, err error)
}

// Gate runs the check battery and classifies the run.
type Gate struct {
	db         *database.DB
	thresholds Thresholds
	log        *zap.Logger
	now        func() time.Time
}

// New creates a quality gate.
func New(db *database.DB, thresholds Thresholds, log *zap.Logger) *Gate {
	return &Gate{db: db, thresholds: thresholds, log: logging.OrNop(log).Named("quality"), now: time.Now}
}

// RunChecks evaluates every check, appends the verdicts to the run, and sets
// the run status. With failOnCritical a failed critical check returns
// ErrCriticalCheckFailed after the verdicts and status are stored.
func (g *Gate) RunChecks(ctx context.Context, runID int64, failOnCritical bool) ([]CheckResult, error) {
	checks := g.Checks()
	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		passed, actual, expected, err := c.eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", c.Name, err)
		}
		results = append(results, CheckResult{
			Name:     c.Name,
			Table:    c.Table,
			Passed:   passed,
			Severity: c.Severity,
			Actual:   actual,
			Expected: expected,
		})
		if !passed {
			g.log.Warn("quality check failed",
				zap.String("check", c.Name),
				zap.String("severity", string(c.Severity)),
				zap.String("actual", actual),
				zap.String("expected", expected))
		}
	}

	checkedAt := g.now().UTC().Format(database.TimeLayout)
	rows := make([]database.QualityCheckResult, len(results))
	for i, r := range results {
		rows[i] = database.QualityCheckResult{
			RunID:     runID,
			Name:      r.Name,
			Table:     r.Table,
			Passed:    r.Passed,
			Severity:  r.Severity,
			Actual:    r.Actual,
			Expected:  r.Expected,
			CheckedAt: checkedAt,
		}
	}
	if err := g.db.InsertCheckResults(ctx, rows); err != nil {
		return nil, fmt.Errorf("storing check results: %w", err)
	}

	status := Status(results)
	if err := g.db.SetRunStatus(ctx, runID, status); err != nil {
		return nil, fmt.Errorf("setting run status: %w", err)
	}
	g.log.Info("quality gate evaluated", zap.Int64("run_id", runID), zap.String("status", string(status)))

	if failOnCritical && status == database.RunFailed {
		return results, fmt.Errorf("run %d: %w", runID, ErrCriticalCheckFailed)
	}
	return results, nil
}

// Status folds check verdicts into a run status: any failed critical check
// fails the run, any other failure downgrades it to warning.
func Status(results []CheckResult) database.RunStatus {
	status := database.RunSuccess
	for _, r := range results {
		if r.Passed {
			continue
		}
		if r.Severity == Critical {
			return database.RunFailed
		}
		status = database.RunWarning
	}
	return status
}

// FailedCount returns the number of failed checks.
func FailedCount(results []CheckResult) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
