// Package checkpoint keeps a history of replication runs. The history is
// informational: watermarks are always read fresh from the databases, never
// from here.
package checkpoint

import (
	"fmt"
	"time"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one invocation of a replication job.
type Run struct {
	ID          string     `yaml:"id" json:"id"`
	Job         string     `yaml:"job" json:"job"`
	Mode        string     `yaml:"mode" json:"mode"`
	Status      Status     `yaml:"status" json:"status"`
	StartedAt   time.Time  `yaml:"started_at" json:"started_at"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	Rows        int64      `yaml:"rows" json:"rows"`
	SrcRid      string     `yaml:"src_rid,omitempty" json:"src_rid,omitempty"`
	DstRid      string     `yaml:"dst_rid,omitempty" json:"dst_rid,omitempty"`
	Error       string     `yaml:"error,omitempty" json:"error,omitempty"`
	Passes      []Pass     `yaml:"passes,omitempty" json:"passes,omitempty"`
}

// Duration returns the run time, or the time elapsed so far.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Pass is one streaming pass of a run: rows copied above FromRid while the
// source reported ToRid.
type Pass struct {
	N          int       `yaml:"n" json:"n"`
	FromRid    string    `yaml:"from_rid" json:"from_rid"`
	ToRid      string    `yaml:"to_rid" json:"to_rid"`
	Rows       int64     `yaml:"rows" json:"rows"`
	RecordedAt time.Time `yaml:"recorded_at" json:"recorded_at"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	Status Status
	Rows   int64
	SrcRid string
	DstRid string
	Error  string
}

// Backend stores run history.
// Implementations include SQLite (State) and a single YAML file (FileState).
type Backend interface {
	StartRun(r *Run) error
	RecordPass(runID string, p Pass) error
	FinishRun(runID string, o Outcome) error

	// Runs returns the most recent runs first. An empty job matches every
	// job; a limit of zero or less returns all runs.
	Runs(job string, limit int) ([]Run, error)

	// Run returns one run with its passes, or nil when it does not exist.
	Run(id string) (*Run, error)

	Close() error
}

// Error is a failure of the history store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("run history: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

var (
	_ Backend = (*State)(nil)
	_ Backend = (*FileState)(nil)
)
