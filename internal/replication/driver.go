// Package replication copies rows between two engines, either as a full
// refresh or as an incremental update driven by a monotonically increasing
// rid column.
package replication

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// Options tunes a Driver.
type Options struct {
	// PipelineDepth is the number of fetched batches buffered ahead of the
	// writer. Zero runs fetch and insert in lockstep.
	PipelineDepth int

	// MaxPasses bounds the streaming passes of an incremental run; zero
	// means no bound.
	MaxPasses int

	// CreateMissing creates an absent destination table from the source
	// columns instead of failing.
	CreateMissing bool

	// OnEvent, if set, observes the run.
	OnEvent func(Event)
}

// DefaultOptions returns synchronous copying with table creation enabled.
func DefaultOptions() Options {
	return Options{CreateMissing: true}
}

// Driver runs replication jobs. Engines are opened through the injected
// registry.
type Driver struct {
	reg  *engine.Registry
	opts Options
}

// New creates a Driver.
func New(reg *engine.Registry, opts Options) *Driver {
	if opts.PipelineDepth < 0 {
		opts.PipelineDepth = 0
	}
	return &Driver{reg: reg, opts: opts}
}

// Run opens both engines of job, replicates according to job.Mode and
// closes the engines.
func (d *Driver) Run(ctx context.Context, job *config.Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	src, err := d.reg.Open(ctx, job.Src.Conn)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %w", job.Src.Conn.Name, err)
	}
	defer src.Close()

	dst, err := d.reg.Open(ctx, job.Dst.Conn)
	if err != nil {
		return nil, fmt.Errorf("opening destination %s: %w", job.Dst.Conn.Name, err)
	}
	defer dst.Close()

	switch job.Mode {
	case config.ModeIncremental:
		return d.IncrementalUpdate(ctx, src, dst, job)
	default:
		return d.FullRefresh(ctx, src, dst, job)
	}
}

// FullRefresh empties (or creates) the destination and copies every source row.
func (d *Driver) FullRefresh(ctx context.Context, src, dst engine.Engine, job *config.Job) (*Result, error) {
	r := d.newRun(job, config.ModeFullRefresh)
	r.enter(StateStart)

	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	if err := r.prepareDestination(ctx, src, dst, true); err != nil {
		return nil, r.fail(err)
	}

	r.enter(StateStreaming)
	if err := src.BeginFullFetch(ctx, job.Src.Endpoint); err != nil {
		return nil, r.fail(err)
	}
	if _, err := r.copy(ctx, src, dst); err != nil {
		return nil, r.fail(err)
	}

	r.enter(StateDone)
	r.finish()
	logging.Info("Full refresh of %s complete: %d rows in %d batches (%s)",
		job.Name, r.res.Rows, r.res.DstBatches, r.res.Duration.Round(time.Millisecond))
	return r.res, nil
}

// IncrementalUpdate copies the source rows whose rid is above the
// destination's latest rid, polling again after each pass until both sides
// report the same watermark.
func (d *Driver) IncrementalUpdate(ctx context.Context, src, dst engine.Engine, job *config.Job) (*Result, error) {
	r := d.newRun(job, config.ModeIncremental)
	r.enter(StateStart)

	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	if err := r.prepareDestination(ctx, src, dst, false); err != nil {
		return nil, r.fail(err)
	}

	var (
		prevDst  engine.Watermark
		prevRows int64 = -1
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(err)
		}

		r.enter(StatePolling)
		srcRid, err := src.GetLatestRid(ctx, job.Src.Endpoint)
		if err != nil {
			return nil, r.fail(err)
		}
		dstRid, err := dst.GetLatestRid(ctx, job.Dst.Endpoint)
		if err != nil {
			return nil, r.fail(err)
		}
		r.res.SrcRid, r.res.DstRid = srcRid, dstRid
		logging.Info("Latest rids: %s=%s, %s=%s", job.Src.Conn.Name, srcRid, job.Dst.Conn.Name, dstRid)
		r.emit(Event{Kind: EventWatermarks, Src: srcRid, Dst: dstRid})

		if prevRows >= 0 {
			if err := checkAdvance(prevDst, dstRid, prevRows); err != nil {
				return nil, r.fail(err)
			}
		}

		behind, err := dstRid.Less(srcRid)
		if err != nil {
			return nil, r.fail(fmt.Errorf("comparing watermarks: %w", err))
		}
		if !behind {
			r.enter(StateCaughtUp)
			break
		}

		if d.opts.MaxPasses > 0 && r.res.Passes >= d.opts.MaxPasses {
			return nil, r.fail(fmt.Errorf("%w: %d passes, destination at %s, source at %s",
				ErrMaxPasses, r.res.Passes, dstRid, srcRid))
		}
		r.res.Passes++

		r.enter(StateStreaming)
		if err := src.BeginIncrementalFetch(ctx, job.Src.Endpoint, dstRid); err != nil {
			return nil, r.fail(err)
		}
		n, err := r.copy(ctx, src, dst)
		if err != nil {
			return nil, r.fail(err)
		}
		if n == 0 {
			return nil, r.fail(fmt.Errorf("%w: source reports rid %s but no rows above %s were fetched",
				ErrNoProgress, srcRid, dstRid))
		}
		logging.Debug("Pass %d of %s copied %d rows above %s", r.res.Passes, job.Name, n, dstRid)
		prevDst, prevRows = dstRid, n
	}

	r.enter(StateDone)
	r.finish()
	logging.Info("Incremental update of %s complete: %d rows in %d passes (%s)",
		job.Name, r.res.Rows, r.res.Passes, r.res.Duration.Round(time.Millisecond))
	return r.res, nil
}

// checkAdvance verifies that the destination watermark moved forward after
// a pass that wrote rows.
func checkAdvance(prev, cur engine.Watermark, rows int64) error {
	c, err := cur.Compare(prev)
	if err != nil {
		return fmt.Errorf("comparing watermarks: %w", err)
	}
	switch {
	case c < 0:
		return fmt.Errorf("%w: from %s to %s", ErrWatermarkRegressed, prev, cur)
	case c == 0 && rows > 0:
		return fmt.Errorf("%w: wrote %d rows but destination watermark stayed at %s", ErrNoProgress, rows, cur)
	}
	return nil
}

// run is the mutable state of one Driver invocation.
type run struct {
	opts  Options
	job   *config.Job
	state State
	start time.Time
	res   *Result
}

func (d *Driver) newRun(job *config.Job, mode string) *run {
	return &run{
		opts:  d.opts,
		job:   job,
		start: time.Now(),
		res:   &Result{Job: job.Name, Mode: mode},
	}
}

func (r *run) enter(s State) {
	r.state = s
	r.emit(Event{Kind: EventState})
}

func (r *run) emit(ev Event) {
	if r.opts.OnEvent == nil {
		return
	}
	ev.Job = r.job.Name
	ev.Mode = r.res.Mode
	ev.State = r.state
	ev.Pass = r.res.Passes
	ev.Total = r.res.Rows
	if ev.Kind != EventWatermarks {
		ev.Src, ev.Dst = r.res.SrcRid, r.res.DstRid
	}
	r.opts.OnEvent(ev)
}

func (r *run) fail(err error) error {
	r.finish()
	return &Error{Mode: r.res.Mode, State: r.state, Err: err}
}

func (r *run) finish() {
	r.res.Duration = time.Since(r.start)
}

// prepareDestination makes sure the destination table exists, creating it
// from the source columns when allowed. With truncate set an existing table
// is emptied.
func (r *run) prepareDestination(ctx context.Context, src, dst engine.Engine, truncate bool) error {
	dstEp := r.job.Dst.Endpoint
	ok, err := dst.Exists(ctx, dstEp)
	if err != nil {
		return err
	}
	if ok {
		if truncate {
			r.enter(StateTruncating)
			logging.Debug("Truncating %s", dstEp)
			return dst.Truncate(ctx, dstEp)
		}
		return nil
	}

	if !r.opts.CreateMissing {
		return fmt.Errorf("%w: %s", ErrMissingTable, dstEp)
	}
	r.enter(StateCreating)
	cols, err := src.Describe(ctx, r.job.Src.Endpoint)
	if err != nil {
		return err
	}
	logging.Info("Creating %s with %d columns", dstEp, len(cols))
	return dst.Create(ctx, dstEp, cols)
}

// copy drains the open source cursor into the destination and returns the
// number of rows written.
func (r *run) copy(ctx context.Context, src, dst engine.Engine) (int64, error) {
	before := r.res.Rows
	var err error
	if r.opts.PipelineDepth > 0 {
		err = r.copyPipelined(ctx, src, dst)
	} else {
		err = r.copySync(ctx, src, dst)
	}
	return r.res.Rows - before, err
}

func (r *run) copySync(ctx context.Context, src, dst engine.Engine) error {
	size := r.job.Src.Endpoint.Size()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := src.FetchBatch(ctx, size)
		if err != nil {
			return err
		}
		if batch.Len() == 0 {
			return nil
		}
		r.res.SrcBatches++
		if err := r.write(ctx, dst, batch); err != nil {
			return err
		}
	}
}

// copyPipelined fetches ahead of the writer through a bounded channel. The
// source engine is used only by the producer and the destination engine
// only by the consumer.
func (r *run) copyPipelined(ctx context.Context, src, dst engine.Engine) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan engine.RowBatch, r.opts.PipelineDepth)
	size := r.job.Src.Endpoint.Size()

	var fetched int
	g.Go(func() error {
		defer close(batches)
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch, err := src.FetchBatch(gctx, size)
			if err != nil {
				return err
			}
			if batch.Len() == 0 {
				return nil
			}
			fetched++
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.write(ctx, dst, batch); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	r.res.SrcBatches += fetched
	return err
}

// write re-chunks a fetched batch to the destination batch size. Inserts
// are not cancelled midway: a batch either lands completely or fails.
func (r *run) write(ctx context.Context, dst engine.Engine, batch engine.RowBatch) error {
	wctx := context.WithoutCancel(ctx)
	for _, chunk := range batch.Chunks(r.job.Dst.Endpoint.Size()) {
		if err := dst.InsertBatch(wctx, r.job.Dst.Endpoint, chunk); err != nil {
			return err
		}
		r.res.DstBatches++
		r.res.Rows += int64(chunk.Len())
		r.emit(Event{Kind: EventBatch, Rows: chunk.Len()})
	}
	return nil
}
