// Package engine defines the capability interface the replication driver uses
// to talk to a database, together with the types that cross it.
package engine

import (
	"context"
	"fmt"
)

// DefaultBatchSize is used when an endpoint does not set one.
const DefaultBatchSize = 1000

// Engine executes read and write primitives against one database.
//
// An engine holds at most one open read cursor. Engines are not safe for
// concurrent use; the driver gives each side of a job its own engine.
type Engine interface {
	// Name returns the canonical engine type, e.g. "postgres".
	Name() string

	// GetLatestRid returns MAX(rid) over the endpoint, or an invalid
	// Watermark when there are no rows.
	GetLatestRid(ctx context.Context, ep Endpoint) (Watermark, error)

	// BeginIncrementalFetch opens a cursor over rows with rid > min, ordered
	// ascending by rid. An invalid min selects every row.
	BeginIncrementalFetch(ctx context.Context, ep Endpoint, min Watermark) error

	// BeginFullFetch opens a cursor over every row, in no particular order.
	BeginFullFetch(ctx context.Context, ep Endpoint) error

	// FetchBatch returns up to size rows from the open cursor. An exhausted
	// cursor yields an empty batch. Without a cursor it returns ErrNoActiveCursor.
	FetchBatch(ctx context.Context, size int) (RowBatch, error)

	// InsertBatch appends rows to the endpoint table, matching values to
	// batch.Columns by position. An empty batch is a no-op.
	InsertBatch(ctx context.Context, ep Endpoint, batch RowBatch) error

	// Truncate removes every row from the endpoint table.
	Truncate(ctx context.Context, ep Endpoint) error

	// Create creates the endpoint table with the given columns.
	Create(ctx context.Context, ep Endpoint, cols []Column) error

	// Exists reports whether the endpoint table exists.
	Exists(ctx context.Context, ep Endpoint) (bool, error)

	// Describe returns the columns the endpoint produces.
	Describe(ctx context.Context, ep Endpoint) ([]Column, error)

	Ping(ctx context.Context) error
	Close() error
}

// Reconnector is implemented by engines that can drop and re-establish
// their connection. WithReconnect relies on it.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Endpoint is the locator record handed to every primitive: where the rows
// live, which column orders them, and how many rows move per call.
type Endpoint struct {
	Locator   Locator
	Rid       string
	BatchSize int
}

// Size returns the batch size, falling back to DefaultBatchSize.
func (e Endpoint) Size() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return e.BatchSize
}

func (e Endpoint) String() string {
	if e.Locator == nil {
		return "<no locator>"
	}
	if e.Rid == "" {
		return e.Locator.String()
	}
	return fmt.Sprintf("%s (rid %s)", e.Locator, e.Rid)
}

// Locator identifies a row source. It is either ByTable or ByQuery.
type Locator interface {
	fmt.Stringer
	isLocator()
}

// ByTable addresses a table, optionally schema-qualified ("schema.table").
type ByTable struct {
	Name string
}

// ByQuery addresses the result set of a SELECT statement.
type ByQuery struct {
	SQL string
}

func (ByTable) isLocator() {}
func (ByQuery) isLocator() {}

func (t ByTable) String() string { return "table " + t.Name }
func (q ByQuery) String() string { return "query (" + q.SQL + ")" }

// NewLocator builds a locator from optional table and query settings.
// A query takes precedence over a table.
func NewLocator(table, query string) (Locator, error) {
	switch {
	case query != "":
		return ByQuery{SQL: query}, nil
	case table != "":
		return ByTable{Name: table}, nil
	default:
		return nil, fmt.Errorf("either table or query is required")
	}
}

// TableName returns the table an endpoint writes to. Writes to a query
// locator are rejected.
func TableName(ep Endpoint) (string, error) {
	t, ok := ep.Locator.(ByTable)
	if !ok {
		return "", fmt.Errorf("%s is not a table", ep)
	}
	return t.Name, nil
}

// RowBatch is an ordered run of rows with the column names they share.
type RowBatch struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (b RowBatch) Len() int {
	return len(b.Rows)
}

// Slice returns rows [lo, hi) sharing the same columns. Bounds are clamped.
func (b RowBatch) Slice(lo, hi int) RowBatch {
	if hi > len(b.Rows) {
		hi = len(b.Rows)
	}
	if lo > hi {
		lo = hi
	}
	return RowBatch{Columns: b.Columns, Rows: b.Rows[lo:hi]}
}

// Chunks splits the batch into pieces of at most size rows.
func (b RowBatch) Chunks(size int) []RowBatch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out []RowBatch
	for off := 0; off < len(b.Rows); off += size {
		out = append(out, b.Slice(off, off+size))
	}
	return out
}
