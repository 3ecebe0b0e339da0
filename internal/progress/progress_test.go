package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []ProgressUpdate {
	t.Helper()
	var out []ProgressUpdate
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var u ProgressUpdate
		if err := json.Unmarshal([]byte(line), &u); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		out = append(out, u)
	}
	return out
}

func TestJSONReporterThrottles(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, time.Hour)

	r.Report(ProgressUpdate{Job: "events", RowsTransferred: 1})
	r.Report(ProgressUpdate{Job: "events", RowsTransferred: 2})
	r.ReportImmediate(ProgressUpdate{Job: "events", State: "done", RowsTransferred: 3})

	got := decodeLines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2", len(got))
	}
	if got[0].RowsTransferred != 1 || got[1].State != "done" {
		t.Errorf("updates = %+v", got)
	}
	if got[0].Timestamp == "" {
		t.Error("timestamp not set")
	}
}

func TestJSONReporterClosed(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, 0)
	r.Report(ProgressUpdate{Job: "a"})
	r.Close()
	r.Report(ProgressUpdate{Job: "b"})
	r.ReportImmediate(ProgressUpdate{Job: "c"})

	if got := decodeLines(t, &buf); len(got) != 1 || got[0].Job != "a" {
		t.Errorf("updates = %+v, want only job a", got)
	}
}

func TestTrackerCounts(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWithWriter(&buf, "events")
	tr.Add(5)
	tr.Describe("events pass 2")
	tr.Add(7)
	if got := tr.Current(); got != 12 {
		t.Errorf("Current() = %d, want 12", got)
	}
}

func TestNullReporter(t *testing.T) {
	var r Reporter = &NullReporter{}
	r.Report(ProgressUpdate{})
	r.ReportImmediate(ProgressUpdate{})
	r.Close()
}
