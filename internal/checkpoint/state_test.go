package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateCreatesDatabaseInDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	state, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer state.Close()

	if _, err := os.Stat(filepath.Join(dir, DBFile)); err != nil {
		t.Errorf("database file: %v", err)
	}
}

func TestStateReopen(t *testing.T) {
	dir := t.TempDir()
	state, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := state.StartRun(&Run{ID: "r1", Job: "events", Mode: "incremental"}); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	state.Close()

	state, err = New(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer state.Close()
	r, err := state.Run("r1")
	if err != nil || r == nil {
		t.Fatalf("Run(r1) = %v, %v", r, err)
	}
	if r.Status != StatusRunning {
		t.Errorf("Status = %q, want running", r.Status)
	}
}

func TestCleanupOldRuns(t *testing.T) {
	state, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer state.Close()

	for _, id := range []string{"old-success", "old-failed", "recent-success", "running"} {
		if err := state.StartRun(&Run{ID: id, Job: "events", Mode: "incremental"}); err != nil {
			t.Fatalf("StartRun(%s) error: %v", id, err)
		}
		if err := state.RecordPass(id, Pass{N: 1, Rows: 10}); err != nil {
			t.Fatalf("RecordPass(%s) error: %v", id, err)
		}
	}
	for id, status := range map[string]Status{"old-success": StatusSuccess, "old-failed": StatusFailed, "recent-success": StatusSuccess} {
		if err := state.FinishRun(id, Outcome{Status: status}); err != nil {
			t.Fatalf("FinishRun(%s) error: %v", id, err)
		}
	}

	old := formatTime(time.Now().AddDate(0, 0, -31))
	if _, err := state.db.Exec(`UPDATE runs SET completed_at = ? WHERE id IN (?, ?)`, old, "old-success", "old-failed"); err != nil {
		t.Fatalf("update completed_at error: %v", err)
	}

	n, err := state.CleanupOldRuns(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("CleanupOldRuns() error: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d runs, want 2", n)
	}

	runs, err := state.Runs("", 0)
	if err != nil {
		t.Fatalf("Runs() error: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("remaining runs = %v, want recent-success and running", runIDs(runs))
	}

	var passes int
	if err := state.db.QueryRow(`SELECT COUNT(*) FROM passes`).Scan(&passes); err != nil {
		t.Fatalf("count passes error: %v", err)
	}
	if passes != 2 {
		t.Errorf("passes left = %d, want 2", passes)
	}
}

func TestRecordPassReplaces(t *testing.T) {
	state, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer state.Close()

	if err := state.StartRun(&Run{ID: "r", Job: "j", Mode: "incremental"}); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	for _, rows := range []int64{1, 7} {
		if err := state.RecordPass("r", Pass{N: 1, Rows: rows}); err != nil {
			t.Fatalf("RecordPass() error: %v", err)
		}
	}
	r, err := state.Run("r")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(r.Passes) != 1 || r.Passes[0].Rows != 7 {
		t.Errorf("passes = %+v, want one pass with 7 rows", r.Passes)
	}
}
