// Package tui shows a live view of one replication run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/johndauphine/dbrep/internal/replication"
)

// EventMsg carries a driver event into the program.
type EventMsg replication.Event

// DoneMsg ends the program with the run's result.
type DoneMsg struct {
	Err error
}

// Model is the bubbletea model of a running job.
type Model struct {
	spinner spinner.Model
	cancel  context.CancelFunc

	runID string
	job   string
	mode  string

	state   replication.State
	pass    int
	srcRid  string
	dstRid  string
	rows    int64
	batches int
	start   time.Time

	cancelling bool
	done       bool
	err        error
}

// NewModel creates a model for one run. cancel is called when the user
// presses ctrl+c.
func NewModel(runID, job, mode string, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPurple)
	return Model{
		spinner: s,
		cancel:  cancel,
		runID:   runID,
		job:     job,
		mode:    mode,
		state:   replication.StateStart,
		srcRid:  "none",
		dstRid:  "none",
		start:   time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done || m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case EventMsg:
		ev := replication.Event(msg)
		m.state = ev.State
		m.pass = ev.Pass
		m.rows = ev.Total
		if ev.Src.Valid || ev.Kind == replication.EventWatermarks {
			m.srcRid = ev.Src.String()
		}
		if ev.Dst.Valid || ev.Kind == replication.EventWatermarks {
			m.dstRid = ev.Dst.String()
		}
		if ev.Kind == replication.EventBatch {
			m.batches++
		}
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render(fmt.Sprintf("dbrep %s  %s", m.job, m.mode)))
	b.WriteString("\n")

	status := m.spinner.View() + " " + styleState.Render(string(m.state))
	switch {
	case m.done && m.err != nil:
		status = styleError.Render("failed: " + m.err.Error())
	case m.done:
		status = styleSuccess.Render("done")
	case m.cancelling:
		status += " " + styleHelp.Render("cancelling after the current batch...")
	}

	elapsed := time.Since(m.start)
	rate := float64(m.rows) / max(elapsed.Seconds(), 1e-9)
	rows := []string{
		field("Run", m.runID),
		field("Pass", fmt.Sprint(m.pass)),
		field("Source rid", m.srcRid),
		field("Dest rid", m.dstRid),
		field("Rows", fmt.Sprintf("%d in %d batches", m.rows, m.batches)),
		field("Rate", fmt.Sprintf("%.0f rows/sec", rate)),
		field("Elapsed", elapsed.Round(time.Second).String()),
	}
	b.WriteString(styleBox.Render(status + "\n\n" + strings.Join(rows, "\n")))
	b.WriteString("\n")
	if !m.done {
		b.WriteString(styleHelp.Render("ctrl+c to stop"))
		b.WriteString("\n")
	}
	return b.String()
}

func field(label, value string) string {
	return styleLabel.Render(label) + styleValue.Render(value)
}

// Err returns the result delivered by DoneMsg.
func (m Model) Err() error { return m.err }

// Run shows m until result yields. Events are forwarded in order until the
// channel is closed; the run's result is read after that.
func Run(m Model, events <-chan replication.Event, result <-chan error, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(m, opts...)
	go func() {
		for ev := range events {
			p.Send(EventMsg(ev))
		}
		p.Send(DoneMsg{Err: <-result})
	}()
	_, err := p.Run()
	return err
}
