package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/dbrep/internal/logging"
)

// WithReconnect applies the reconnect-once policy to every primitive of e:
// a call that fails with a lost connection triggers one Reconnect and one
// retry, and a second failure is returned as *EngineError. Engines that do
// not implement Reconnector are returned unchanged.
func WithReconnect(e Engine) Engine {
	if _, ok := e.(*reconnecting); ok {
		return e
	}
	rc, ok := e.(Reconnector)
	if !ok {
		return e
	}
	return &reconnecting{inner: e, rc: rc}
}

// Unwrap returns the engine underneath a WithReconnect wrapper.
func Unwrap(e Engine) Engine {
	if r, ok := e.(*reconnecting); ok {
		return r.inner
	}
	return e
}

type reconnecting struct {
	inner Engine
	rc    Reconnector
}

func (r *reconnecting) do(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !IsConnectionLost(err) || ctx.Err() != nil {
		return r.wrap(op, err)
	}

	logging.Warn("%s %s: connection lost, reconnecting: %v", r.inner.Name(), op, err)
	if rerr := r.rc.Reconnect(ctx); rerr != nil {
		return r.wrap(op, &ConnectionError{
			Engine: r.inner.Name(),
			Op:     op,
			Err:    fmt.Errorf("reconnect failed: %w (original error: %v)", rerr, err),
		})
	}
	if err := fn(); err != nil {
		return r.wrap(op, err)
	}
	logging.Info("%s %s: recovered after reconnect", r.inner.Name(), op)
	return nil
}

func (r *reconnecting) wrap(op string, err error) error {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return err
	}
	return &EngineError{Engine: r.inner.Name(), Op: op, Err: err}
}

func (r *reconnecting) Name() string { return r.inner.Name() }

func (r *reconnecting) GetLatestRid(ctx context.Context, ep Endpoint) (Watermark, error) {
	var w Watermark
	err := r.do(ctx, "get latest rid", func() error {
		var err error
		w, err = r.inner.GetLatestRid(ctx, ep)
		return err
	})
	return w, err
}

func (r *reconnecting) BeginIncrementalFetch(ctx context.Context, ep Endpoint, min Watermark) error {
	return r.do(ctx, "begin incremental fetch", func() error {
		return r.inner.BeginIncrementalFetch(ctx, ep, min)
	})
}

func (r *reconnecting) BeginFullFetch(ctx context.Context, ep Endpoint) error {
	return r.do(ctx, "begin full fetch", func() error {
		return r.inner.BeginFullFetch(ctx, ep)
	})
}

func (r *reconnecting) FetchBatch(ctx context.Context, size int) (RowBatch, error) {
	var b RowBatch
	err := r.do(ctx, "fetch batch", func() error {
		var err error
		b, err = r.inner.FetchBatch(ctx, size)
		return err
	})
	return b, err
}

func (r *reconnecting) InsertBatch(ctx context.Context, ep Endpoint, batch RowBatch) error {
	return r.do(ctx, "insert batch", func() error {
		return r.inner.InsertBatch(ctx, ep, batch)
	})
}

func (r *reconnecting) Truncate(ctx context.Context, ep Endpoint) error {
	return r.do(ctx, "truncate", func() error {
		return r.inner.Truncate(ctx, ep)
	})
}

func (r *reconnecting) Create(ctx context.Context, ep Endpoint, cols []Column) error {
	return r.do(ctx, "create", func() error {
		return r.inner.Create(ctx, ep, cols)
	})
}

func (r *reconnecting) Exists(ctx context.Context, ep Endpoint) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", func() error {
		var err error
		ok, err = r.inner.Exists(ctx, ep)
		return err
	})
	return ok, err
}

func (r *reconnecting) Describe(ctx context.Context, ep Endpoint) ([]Column, error) {
	var cols []Column
	err := r.do(ctx, "describe", func() error {
		var err error
		cols, err = r.inner.Describe(ctx, ep)
		return err
	})
	return cols, err
}

func (r *reconnecting) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", func() error {
		return r.inner.Ping(ctx)
	})
}

func (r *reconnecting) Reconnect(ctx context.Context) error {
	return r.rc.Reconnect(ctx)
}

func (r *reconnecting) Close() error {
	return r.inner.Close()
}
