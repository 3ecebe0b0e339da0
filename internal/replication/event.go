package replication

import (
	"time"

	"github.com/johndauphine/dbrep/internal/engine"
)

// State is a step of the replication state machine.
type State string

const (
	StateStart      State = "start"
	StateTruncating State = "truncating"
	StateCreating   State = "creating"
	StatePolling    State = "polling"
	StateStreaming  State = "streaming"
	StateCaughtUp   State = "caught-up"
	StateDone       State = "done"
)

// EventKind tells what an Event reports.
type EventKind int

const (
	// EventState reports a state transition.
	EventState EventKind = iota
	// EventWatermarks reports freshly polled source and destination watermarks.
	EventWatermarks
	// EventBatch reports a batch written to the destination.
	EventBatch
)

// Event is delivered to Options.OnEvent. Events of one run are delivered
// sequentially, never concurrently.
type Event struct {
	Kind  EventKind
	Job   string
	Mode  string
	State State
	Pass  int

	Src engine.Watermark
	Dst engine.Watermark

	Rows  int   // rows in this batch
	Total int64 // rows written so far in this run
}

// Result summarises a finished run.
type Result struct {
	Job        string
	Mode       string
	Rows       int64
	SrcBatches int
	DstBatches int
	Passes     int
	SrcRid     engine.Watermark
	DstRid     engine.Watermark
	Duration   time.Duration
}

// RowsPerSecond returns the copy throughput.
func (r *Result) RowsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Rows) / r.Duration.Seconds()
}
