// Package progress reports replication progress on a terminal or as JSON
// lines for automation.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker draws a spinner with a running row count. The total is unknown
// ahead of time because incremental runs poll the source repeatedly.
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker drawing to stderr.
func New(description string) *Tracker {
	return NewWithWriter(os.Stderr, description)
}

// NewWithWriter creates a tracker drawing to w.
func NewWithWriter(w io.Writer, description string) *Tracker {
	return &Tracker{
		startTime: time.Now(),
		bar: progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowBytes(false),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		),
	}
}

// Add increments the row counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Describe replaces the text next to the spinner.
func (t *Tracker) Describe(description string) {
	if t.bar != nil {
		t.bar.Describe(description)
	}
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish stops the spinner and logs the throughput.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / max(elapsed.Seconds(), 1e-9)

	fmt.Fprintln(logging.Output())
	logging.Info("Copied %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Millisecond), rowsPerSec)
}
