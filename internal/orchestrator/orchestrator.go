package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/dbrep/internal/checkpoint"
	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/notify"
	"github.com/johndauphine/dbrep/internal/progress"
	"github.com/johndauphine/dbrep/internal/replication"
	"github.com/johndauphine/dbrep/internal/stats"
)

// Options configures an Orchestrator.
type Options struct {
	// RunID overrides the generated run id.
	RunID string

	Replication replication.Options

	// ProgressWriter, if set, receives a progress bar.
	ProgressWriter io.Writer

	// Reporter receives JSON progress updates. Nil disables reporting.
	Reporter progress.Reporter

	// Events, if set, receives every driver event and must be drained by
	// the caller. The orchestrator never closes it.
	Events chan<- replication.Event
}

// Orchestrator wraps the replication driver with the run lifecycle: run ids,
// history, notifications and progress output.
type Orchestrator struct {
	reg      *engine.Registry
	history  checkpoint.Backend
	notifier notify.Provider
	opts     Options
}

// New creates a new orchestrator. A nil notifier disables notifications.
func New(reg *engine.Registry, history checkpoint.Backend, notifier notify.Provider, opts Options) *Orchestrator {
	if notifier == nil {
		notifier = notify.New(notify.Config{})
	}
	if opts.Reporter == nil {
		opts.Reporter = &progress.NullReporter{}
	}
	return &Orchestrator{
		reg:      reg,
		history:  history,
		notifier: notifier,
		opts:     opts,
	}
}

// NewRunID returns a short random run id.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// Run executes one replication job and records it in the run history.
func (o *Orchestrator) Run(ctx context.Context, job *config.Job) (*replication.Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	runID := o.opts.RunID
	if runID == "" {
		runID = NewRunID()
	}
	startTime := time.Now()
	logging.Info("Starting %s run %s of job %s", job.Mode, runID, job.Name)

	if err := o.history.StartRun(&checkpoint.Run{
		ID:        runID,
		Job:       job.Name,
		Mode:      job.Mode,
		Status:    checkpoint.StatusRunning,
		StartedAt: startTime,
	}); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	if err := o.notifier.RunStarted(runID, job.Name, job.Mode, job.Src.Conn.Name, job.Dst.Conn.Name); err != nil {
		logging.Warn("Sending start notification: %v", err)
	}

	rec := newRecorder(o, runID, job)
	res, err := o.replicate(ctx, job, rec)
	rec.closePass()

	outcome := checkpoint.Outcome{Status: checkpoint.StatusSuccess}
	if res != nil {
		outcome.Rows = res.Rows
		outcome.SrcRid = ridString(res.SrcRid)
		outcome.DstRid = ridString(res.DstRid)
	} else {
		outcome.Rows = rec.total
		outcome.SrcRid = ridString(rec.src)
		outcome.DstRid = ridString(rec.dst)
	}
	if err != nil {
		outcome.Status = checkpoint.StatusFailed
		if errors.Is(err, context.Canceled) {
			outcome.Status = checkpoint.StatusCancelled
		}
		outcome.Error = err.Error()
	}
	o.opts.Reporter.ReportImmediate(rec.update(string(outcome.Status), err))

	if ferr := o.history.FinishRun(runID, outcome); ferr != nil {
		logging.Error("Recording run %s: %v", runID, ferr)
		if err == nil {
			err = fmt.Errorf("completing run: %w", ferr)
		}
	}

	if err != nil {
		if nerr := o.notifier.RunFailed(runID, job.Name, err, time.Since(startTime)); nerr != nil {
			logging.Warn("Sending failure notification: %v", nerr)
		}
		return res, err
	}

	if nerr := o.notifier.RunCompleted(runID, notify.Summary{
		Job:        job.Name,
		Mode:       job.Mode,
		StartTime:  startTime,
		Duration:   res.Duration,
		Rows:       res.Rows,
		Passes:     res.Passes,
		DstRid:     ridString(res.DstRid),
		Throughput: res.RowsPerSecond(),
	}); nerr != nil {
		logging.Warn("Sending completion notification: %v", nerr)
	}
	return res, nil
}

// replicate opens both engines and runs the driver with events routed
// through rec.
func (o *Orchestrator) replicate(ctx context.Context, job *config.Job, rec *recorder) (*replication.Result, error) {
	src, err := o.reg.Open(ctx, job.Src.Conn)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %w", job.Src.Conn.Name, err)
	}
	defer src.Close()

	dst, err := o.reg.Open(ctx, job.Dst.Conn)
	if err != nil {
		return nil, fmt.Errorf("opening destination %s: %w", job.Dst.Conn.Name, err)
	}
	defer dst.Close()
	defer logPoolStats(src, dst)

	opts := o.opts.Replication
	next := opts.OnEvent
	opts.OnEvent = func(ev replication.Event) {
		rec.handle(ev)
		if next != nil {
			next(ev)
		}
	}

	if o.opts.ProgressWriter != nil {
		rec.tracker = progress.NewWithWriter(o.opts.ProgressWriter, job.Name)
		defer rec.tracker.Finish()
	}

	d := replication.New(o.reg, opts)
	if job.Mode == config.ModeIncremental {
		return d.IncrementalUpdate(ctx, src, dst, job)
	}
	return d.FullRefresh(ctx, src, dst, job)
}

func ridString(w engine.Watermark) string {
	if !w.Valid {
		return ""
	}
	return w.String()
}

type poolStatser interface {
	Stats() stats.PoolStats
}

func logPoolStats(engines ...engine.Engine) {
	for _, e := range engines {
		if s, ok := engine.Unwrap(e).(poolStatser); ok {
			logging.Debug("Pool %s", s.Stats())
		}
	}
}

// recorder turns driver events into progress output, TUI messages and
// history passes. Driver events arrive sequentially.
type recorder struct {
	o       *Orchestrator
	runID   string
	start   time.Time
	tracker *progress.Tracker

	job   string
	mode  string
	state replication.State
	pass  int
	src   engine.Watermark
	dst   engine.Watermark
	total int64

	open      *checkpoint.Pass
	passStart int64
}

func newRecorder(o *Orchestrator, runID string, job *config.Job) *recorder {
	return &recorder{o: o, runID: runID, start: time.Now(), job: job.Name, mode: job.Mode}
}

func (r *recorder) handle(ev replication.Event) {
	r.job, r.mode, r.pass, r.total = ev.Job, ev.Mode, ev.Pass, ev.Total
	r.src, r.dst = ev.Src, ev.Dst

	switch ev.Kind {
	case replication.EventState:
		r.state = ev.State
		r.transition(ev)
		if r.tracker != nil {
			r.tracker.Describe(r.describe())
		}
		r.o.opts.Reporter.ReportImmediate(r.update(string(ev.State), nil))
	case replication.EventBatch:
		if r.open != nil {
			r.open.Rows = ev.Total - r.passStart
		}
		if r.tracker != nil {
			r.tracker.Add(int64(ev.Rows))
		}
		r.o.opts.Reporter.Report(r.update(string(r.state), nil))
	}

	if r.o.opts.Events != nil {
		r.o.opts.Events <- ev
	}
}

// transition opens a history pass when an incremental run starts streaming
// and records it when the run leaves that state.
func (r *recorder) transition(ev replication.Event) {
	if ev.State == replication.StateStreaming {
		if ev.Mode != config.ModeIncremental {
			return
		}
		r.open = &checkpoint.Pass{N: ev.Pass, FromRid: ridString(ev.Dst), ToRid: ridString(ev.Src)}
		r.passStart = ev.Total
		return
	}
	r.closePass()
}

func (r *recorder) closePass() {
	if r.open == nil {
		return
	}
	p := *r.open
	r.open = nil
	p.Rows = r.total - r.passStart
	p.RecordedAt = time.Now()
	if err := r.o.history.RecordPass(r.runID, p); err != nil {
		logging.Warn("Recording pass %d of run %s: %v", p.N, r.runID, err)
	}
}

func (r *recorder) describe() string {
	if r.mode == config.ModeIncremental && r.pass > 0 {
		return fmt.Sprintf("%s pass %d: %s", r.job, r.pass, r.state)
	}
	return fmt.Sprintf("%s: %s", r.job, r.state)
}

func (r *recorder) update(state string, err error) progress.ProgressUpdate {
	u := progress.ProgressUpdate{
		Timestamp:       time.Now().Format(time.RFC3339),
		RunID:           r.runID,
		Job:             r.job,
		Mode:            r.mode,
		State:           state,
		Pass:            r.pass,
		RowsTransferred: r.total,
	}
	u.SrcRid = ridString(r.src)
	u.DstRid = ridString(r.dst)
	if elapsed := time.Since(r.start).Seconds(); elapsed > 0 {
		u.RowsPerSecond = int64(float64(r.total) / elapsed)
	}
	if err != nil {
		u.Error = err.Error()
	}
	return u
}
