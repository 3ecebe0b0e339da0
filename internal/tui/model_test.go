package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/replication"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestModelTracksEvents(t *testing.T) {
	m := NewModel("abcd1234", "events", "incremental", nil)

	m, _ = update(t, m, EventMsg(replication.Event{
		Kind: replication.EventWatermarks, State: replication.StatePolling,
		Src: engine.NewWatermark(int64(10)),
	}))
	m, _ = update(t, m, EventMsg(replication.Event{
		Kind: replication.EventBatch, State: replication.StateStreaming, Pass: 1, Rows: 4, Total: 4,
		Src: engine.NewWatermark(int64(10)),
	}))

	if m.state != replication.StateStreaming || m.pass != 1 || m.rows != 4 || m.batches != 1 {
		t.Errorf("model = state %s pass %d rows %d batches %d", m.state, m.pass, m.rows, m.batches)
	}
	if m.srcRid != "10" || m.dstRid != "none" {
		t.Errorf("rids = %s/%s, want 10/none", m.srcRid, m.dstRid)
	}
	view := m.View()
	for _, want := range []string{"abcd1234", "events", "4 in 1 batches", "ctrl+c"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelCancel(t *testing.T) {
	cancelled := 0
	m := NewModel("r", "events", "full-refresh", func() { cancelled++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled != 1 || !m.cancelling {
		t.Fatalf("first ctrl+c: cancelled=%d cancelling=%v", cancelled, m.cancelling)
	}
	if cmd != nil {
		t.Error("first ctrl+c should wait for the run to stop")
	}
	if !strings.Contains(m.View(), "cancelling") {
		t.Error("view does not show cancelling")
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("second ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("second ctrl+c does not quit")
	}
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}
}

func TestModelDone(t *testing.T) {
	m := NewModel("r", "events", "incremental", nil)
	boom := errors.New("boom")
	m, cmd := update(t, m, DoneMsg{Err: boom})
	if !errors.Is(m.Err(), boom) {
		t.Errorf("Err() = %v", m.Err())
	}
	if cmd == nil {
		t.Fatal("DoneMsg returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("DoneMsg does not quit")
	}
	if !strings.Contains(m.View(), "failed: boom") {
		t.Errorf("view = %s", m.View())
	}
}
