package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johndauphine/dbrep/internal/checkpoint"
)

const timeLayout = "2006-01-02 15:04:05"

// ShowHistory writes the most recent runs of job (all jobs when empty) to w,
// as a table or as a JSON array.
func ShowHistory(w io.Writer, history checkpoint.Backend, job string, limit int, asJSON bool) error {
	runs, err := history.Runs(job, limit)
	if err != nil {
		return err
	}

	if asJSON {
		if runs == nil {
			runs = []checkpoint.Run{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No run history")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-20s %-13s %-10s %12s %s\n",
		"ID", "Job", "Started", "Mode", "Status", "Rows", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-20s %-20s %-13s %-10s %12d %s\n",
			r.ID, truncate(r.Job, 20), r.StartedAt.Local().Format(timeLayout), r.Mode, r.Status,
			r.Rows, r.Duration().Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(w, "           Error: %s\n", r.Error)
		}
	}

	fmt.Fprintln(w, "\nUse 'history --run <ID>' to view the passes of a run")
	return nil
}

// ShowRunDetails writes one run and its passes to w.
func ShowRunDetails(w io.Writer, history checkpoint.Backend, runID string, asJSON bool) error {
	run, err := history.Run(runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(w, "Run ID:      %s\n", run.ID)
	fmt.Fprintf(w, "Job:         %s\n", run.Job)
	fmt.Fprintf(w, "Mode:        %s\n", run.Mode)
	fmt.Fprintf(w, "Status:      %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", run.Error)
	}
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(timeLayout))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", run.CompletedAt.Local().Format(timeLayout))
		fmt.Fprintf(w, "Duration:    %s\n", run.Duration().Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Rows:        %d\n", run.Rows)
	if run.SrcRid != "" || run.DstRid != "" {
		fmt.Fprintf(w, "Latest rids: source=%s destination=%s\n", orDash(run.SrcRid), orDash(run.DstRid))
	}

	if len(run.Passes) > 0 {
		fmt.Fprintf(w, "\n%-6s %-24s %-24s %12s\n", "Pass", "From", "To", "Rows")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, p := range run.Passes {
			fmt.Fprintf(w, "%-6d %-24s %-24s %12d\n", p.N, truncate(orDash(p.FromRid), 24), truncate(p.ToRid, 24), p.Rows)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" || s == "none" {
		return "-"
	}
	return s
}
