// Package report renders a pipeline run as a markdown status report.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/lineage"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/pipeline"
)

// ParseStages extracts the per-stage summaries stored in a run's metadata.
func ParseStages(run *database.PipelineRun) ([]pipeline.RunSummary, error) {
	if run == nil || run.Metadata == nil || *run.Metadata == "" {
		return nil, nil
	}
	var md struct {
		Stages []pipeline.RunSummary `json:"stages"`
	}
	if err := json.Unmarshal([]byte(*run.Metadata), &md); err != nil {
		return nil, fmt.Errorf("decoding run %d metadata: %w", run.ID, err)
	}
	return md.Stages, nil
}

// Compose assembles the report body. run may be nil when nothing has run yet.
func Compose(run *database.PipelineRun, stages []pipeline.RunSummary, checks []database.QualityCheckResult, freshness []lineage.TableStatus) string {
	var sb strings.Builder

	if run == nil {
		sb.WriteString("# Warehouse status\n\nNo pipeline runs recorded yet.\n")
	} else {
		writeHeader(&sb, run)
		writeStages(&sb, stages)
		writeChecks(&sb, checks)
	}
	writeFreshness(&sb, freshness)
	return sb.String()
}

func writeHeader(sb *strings.Builder, run *database.PipelineRun) {
	fmt.Fprintf(sb, "# Pipeline run %d\n\n", run.ID)
	fmt.Fprintf(sb, "- **Status:** %s\n", strings.ToUpper(string(run.Status)))
	fmt.Fprintf(sb, "- **Key:** `%s`\n", run.Key)
	fmt.Fprintf(sb, "- **Type:** %s\n", run.Type)
	if run.SourceLabel != nil {
		fmt.Fprintf(sb, "- **Source:** %s\n", *run.SourceLabel)
	}
	fmt.Fprintf(sb, "- **Started:** %s\n", run.StartedAt)
	if run.CompletedAt != nil {
		fmt.Fprintf(sb, "- **Completed:** %s\n", *run.CompletedAt)
	}
	fmt.Fprintf(sb, "- **Stages completed:** %d\n", run.StagesCompleted)
	fmt.Fprintf(sb, "- **Rows processed:** %d\n", run.RowsProcessed)
	if run.ErrorMessage != nil {
		fmt.Fprintf(sb, "- **Error:** %s\n", *run.ErrorMessage)
	}
	sb.WriteString("\n")
}

func writeStages(sb *strings.Builder, stages []pipeline.RunSummary) {
	sb.WriteString("## Stages\n\n")
	if len(stages) == 0 {
		sb.WriteString("_No stage detail recorded._\n\n")
		return
	}
	sb.WriteString("| Stage | Table | Rows | Duration (ms) | Status |\n")
	sb.WriteString("|---|---|---:|---:|---|\n")
	for _, s := range stages {
		fmt.Fprintf(sb, "| %s | %s | %d | %d | %s |\n", s.Stage, s.Table, s.Rows, s.DurationMs, s.Status)
	}
	sb.WriteString("\n")
}

func writeChecks(sb *strings.Builder, checks []database.QualityCheckResult) {
	sb.WriteString("## Quality checks\n\n")
	if len(checks) == 0 {
		sb.WriteString("_The quality gate did not run._\n\n")
		return
	}
	failed := 0
	for _, c := range checks {
		if !c.Passed {
			failed++
		}
	}
	fmt.Fprintf(sb, "%d of %d checks passed.\n\n", len(checks)-failed, len(checks))
	sb.WriteString("| Check | Table | Severity | Result | Actual | Expected |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, c := range checks {
		result := "pass"
		if !c.Passed {
			result = "**FAIL**"
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %s | %s | %s |\n",
			c.Name, c.Table, c.Severity, result, escapeCell(c.Actual), escapeCell(c.Expected))
	}
	sb.WriteString("\n")
}

func writeFreshness(sb *strings.Builder, freshness []lineage.TableStatus) {
	sb.WriteString("## Freshness\n\n")
	if len(freshness) == 0 {
		sb.WriteString("_No tables refreshed yet._\n")
		return
	}
	sb.WriteString("| Table | Last refresh | Rows | Duration (ms) | Refresh | Status |\n")
	sb.WriteString("|---|---|---:|---:|---|---|\n")
	for _, f := range freshness {
		fmt.Fprintf(sb, "| %s | %s | %d | %d | %s | %s |\n",
			f.Table, f.LastRefreshAt, f.RowCount, f.DurationMs, f.RefreshType, f.Status)
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
