package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// checkTimeout bounds each side of a health check.
const checkTimeout = 30 * time.Second

// HealthCheckResult contains connection test results for both sides of a job.
type HealthCheckResult struct {
	Timestamp   string     `json:"timestamp"`
	Job         string     `json:"job"`
	Source      SideHealth `json:"source"`
	Destination SideHealth `json:"destination"`
	Healthy     bool       `json:"healthy"`
}

// SideHealth is the result of checking one connection.
type SideHealth struct {
	Name       string `json:"name"`
	DBType     string `json:"db_type"`
	Connected  bool   `json:"connected"`
	TableFound bool   `json:"table_found"`
	LatestRid  string `json:"latest_rid,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// HealthCheck tests connectivity to the source and destination of job.
// Both sides are checked in parallel, each with its own timeout, so one slow
// connection does not eat into the other's budget.
func (o *Orchestrator) HealthCheck(ctx context.Context, job *config.Job) (*HealthCheckResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	result := &HealthCheckResult{
		Timestamp: time.Now().Format(time.RFC3339),
		Job:       job.Name,
	}

	var g errgroup.Group
	g.Go(func() error {
		result.Source = o.checkSide(ctx, job.Src.Conn, job.Src.Endpoint)
		return nil
	})
	g.Go(func() error {
		result.Destination = o.checkSide(ctx, job.Dst.Conn, job.Dst.Endpoint)
		return nil
	})
	_ = g.Wait()

	result.Healthy = result.Source.Connected && result.Destination.Connected
	return result, nil
}

func (o *Orchestrator) checkSide(ctx context.Context, conn dbconfig.Connection, ep engine.Endpoint) SideHealth {
	h := SideHealth{Name: conn.Name, DBType: o.reg.Canonicalize(conn.Type)}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	e, err := o.reg.Open(ctx, conn)
	if err != nil {
		h.Error = err.Error()
		h.LatencyMs = time.Since(start).Milliseconds()
		return h
	}
	defer e.Close()

	if err := e.Ping(ctx); err != nil {
		h.Error = err.Error()
		h.LatencyMs = time.Since(start).Milliseconds()
		return h
	}
	h.Connected = true

	// A missing table is not a connection failure: the destination may be
	// created by the first run.
	if ok, err := e.Exists(ctx, ep); err == nil && ok {
		h.TableFound = true
		if w, err := e.GetLatestRid(ctx, ep); err == nil {
			h.LatestRid = ridString(w)
		}
	}
	h.LatencyMs = time.Since(start).Milliseconds()
	return h
}

// WaitHealthy repeats HealthCheck until both sides connect, up to retries
// additional attempts, doubling the backoff between attempts.
func (o *Orchestrator) WaitHealthy(ctx context.Context, job *config.Job, retries int, backoff time.Duration) (*HealthCheckResult, error) {
	for attempt := 0; ; attempt++ {
		result, err := o.HealthCheck(ctx, job)
		if err != nil {
			return nil, err
		}
		if result.Healthy || attempt >= retries {
			if !result.Healthy {
				return result, fmt.Errorf("connection check of %s failed after %d attempts: %w",
					job.Name, attempt+1, result.firstError())
			}
			return result, nil
		}

		logging.Warn("Connection check of %s failed (attempt %d/%d), retrying in %s: %v",
			job.Name, attempt+1, retries+1, backoff, result.firstError())
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *HealthCheckResult) firstError() error {
	for _, s := range []SideHealth{r.Source, r.Destination} {
		if !s.Connected {
			return &engine.ConnectionError{Engine: s.DBType, Op: "health check " + s.Name, Err: errors.New(s.Error)}
		}
	}
	return nil
}
