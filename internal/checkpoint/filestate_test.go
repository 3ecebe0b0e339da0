package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStatePersists(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state", "history.yaml")

	fs, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	if err := fs.StartRun(&Run{ID: "test123", Job: "events", Mode: "full-refresh"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := fs.RecordPass("test123", Pass{N: 1, ToRid: "42", Rows: 42}); err != nil {
		t.Fatalf("RecordPass: %v", err)
	}
	if err := fs.FinishRun("test123", Outcome{Status: StatusFailed, Rows: 42, Error: "boom"}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	info, err := os.Stat(stateFile)
	if err != nil {
		t.Fatalf("state file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("state file mode = %o, want 600", perm)
	}

	fs2, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState (reload): %v", err)
	}
	r, err := fs2.Run("test123")
	if err != nil || r == nil {
		t.Fatalf("Run after reload = %v, %v", r, err)
	}
	if r.Status != StatusFailed || r.Error != "boom" || len(r.Passes) != 1 {
		t.Errorf("reloaded run = %+v", r)
	}
}

func TestFileStateKeepsLatestRuns(t *testing.T) {
	fs, err := NewFileState(filepath.Join(t.TempDir(), "history.yaml"))
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxFileRuns+5; i++ {
		r := &Run{ID: fmt.Sprintf("run-%02d", i), Job: "events", StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := fs.StartRun(r); err != nil {
			t.Fatalf("StartRun(%d): %v", i, err)
		}
	}

	runs, err := fs.Runs("", 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != MaxFileRuns {
		t.Fatalf("kept %d runs, want %d", len(runs), MaxFileRuns)
	}
	if runs[0].ID != fmt.Sprintf("run-%02d", MaxFileRuns+4) {
		t.Errorf("newest = %s", runs[0].ID)
	}
	if r, _ := fs.Run("run-00"); r != nil {
		t.Error("oldest run was not dropped")
	}
}

func TestFileStateRejectsDuplicateAndCorruptFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileState(filepath.Join(dir, "history.yaml"))
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	if err := fs.StartRun(&Run{ID: "x"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := fs.StartRun(&Run{ID: "x"}); err == nil {
		t.Error("duplicate StartRun succeeded")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("runs: [\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileState(bad); err == nil {
		t.Error("NewFileState on corrupt file succeeded")
	}
}
