package notify

import "time"

// Provider defines the notification contract for replication runs.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// RunStarted sends notification when a run starts.
	RunStarted(runID, job, mode, source, destination string) error

	// RunCompleted sends notification when a run completes successfully.
	RunCompleted(runID string, s Summary) error

	// RunFailed sends notification when a run fails.
	RunFailed(runID, job string, err error, duration time.Duration) error
}

// Summary describes a finished run.
type Summary struct {
	Job        string
	Mode       string
	StartTime  time.Time
	Duration   time.Duration
	Rows       int64
	Passes     int
	DstRid     string
	Throughput float64
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
