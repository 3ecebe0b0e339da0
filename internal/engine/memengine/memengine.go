// Package memengine is an in-memory Engine. It backs tests of the driver,
// the verifier and the orchestrator, and can inject connection faults.
package memengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
)

// Name is the engine type registered by Factory.
const Name = "memory"

// Table holds the rows of one in-memory table.
type Table struct {
	Columns []engine.Column
	Rows    [][]any
}

// QueryFunc produces the result of a query locator.
type QueryFunc func(s *Store) (engine.RowBatch, error)

// Store is a set of tables shared by any number of engines. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	tables  map[string]*Table
	queries map[string]QueryFunc
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*Table), queries: make(map[string]QueryFunc)}
}

// CreateTable creates or replaces a table holding rows.
func (s *Store) CreateTable(name string, cols []string, rows ...[]any) {
	t := &Table{}
	for _, c := range cols {
		t.Columns = append(t.Columns, engine.Column{Name: c, Nullable: true})
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, append([]any(nil), r...))
	}
	s.mu.Lock()
	s.tables[strings.ToLower(name)] = t
	s.mu.Unlock()
}

// Append adds rows to an existing table.
func (s *Store) Append(name string, rows ...[]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[strings.ToLower(name)]
	for _, r := range rows {
		t.Rows = append(t.Rows, append([]any(nil), r...))
	}
}

// Rows returns a copy of a table's rows, or nil if it does not exist.
func (s *Store) Rows(name string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil
	}
	out := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Columns returns the column names of a table.
func (s *Store) Columns(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return columnNames(t.Columns)
}

// HasTable reports whether a table exists.
func (s *Store) HasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[strings.ToLower(name)]
	return ok
}

// DefineQuery registers the result of a query locator with the given SQL.
func (s *Store) DefineQuery(sql string, fn QueryFunc) {
	s.mu.Lock()
	s.queries[strings.TrimSpace(sql)] = fn
	s.mu.Unlock()
}

// Engine returns a new engine over the store.
func (s *Store) Engine() *Engine {
	return &Engine{store: s, faults: make(map[string][]error), calls: make(map[string]int)}
}

// Factory registers the store as the "memory" engine type. Every Open
// returns a fresh engine over the same store.
type Factory struct {
	Store *Store

	// OnOpen, if set, is called with each engine before it is returned.
	OnOpen func(conn dbconfig.Connection, e *Engine)
}

func (f Factory) Name() string { return Name }

func (f Factory) Aliases() []string { return []string{"mem"} }

func (f Factory) Open(_ context.Context, conn dbconfig.Connection) (engine.Engine, error) {
	e := f.Store.Engine()
	if f.OnOpen != nil {
		f.OnOpen(conn, e)
	}
	return e, nil
}

// Engine is an engine.Engine over a Store. Cursors read a snapshot taken
// when the fetch begins.
type Engine struct {
	store *Store

	mu         sync.Mutex
	cur        *cursor
	faults     map[string][]error
	calls      map[string]int
	reconnects int
	closed     bool

	// AfterFetch, if set, runs after every FetchBatch that returned rows.
	AfterFetch func(batch engine.RowBatch)
}

type cursor struct {
	columns []string
	rows    [][]any
	pos     int
}

// Operation names accepted by FailNext.
const (
	OpGetLatestRid = "get latest rid"
	OpBeginIncr    = "begin incremental fetch"
	OpBeginFull    = "begin full fetch"
	OpFetch        = "fetch batch"
	OpInsert       = "insert batch"
	OpTruncate     = "truncate"
	OpCreate       = "create"
	OpExists       = "exists"
	OpDescribe     = "describe"
	OpPing         = "ping"
)

// FailNext queues errs to be returned by the next calls of op, one per call.
func (e *Engine) FailNext(op string, errs ...error) {
	e.mu.Lock()
	e.faults[op] = append(e.faults[op], errs...)
	e.mu.Unlock()
}

// Calls returns how many times op was invoked, including failed calls.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// Reconnects returns how many times Reconnect was called.
func (e *Engine) Reconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnects
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) enter(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	if e.closed {
		return fmt.Errorf("memory %s: engine is closed", op)
	}
	if q := e.faults[op]; len(q) > 0 {
		e.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) GetLatestRid(ctx context.Context, ep engine.Endpoint) (engine.Watermark, error) {
	if err := e.enter(OpGetLatestRid); err != nil {
		return engine.Watermark{}, err
	}
	batch, err := e.store.scan(ep.Locator)
	if err != nil {
		return engine.Watermark{}, err
	}
	idx, err := ridIndex(batch.Columns, ep.Rid)
	if err != nil {
		return engine.Watermark{}, err
	}
	var latest engine.Watermark
	for _, row := range batch.Rows {
		w := engine.NewWatermark(row[idx])
		if less, err := latest.Less(w); err != nil {
			return engine.Watermark{}, err
		} else if less {
			latest = w
		}
	}
	return latest, nil
}

func (e *Engine) BeginIncrementalFetch(ctx context.Context, ep engine.Endpoint, min engine.Watermark) error {
	if err := e.enter(OpBeginIncr); err != nil {
		return err
	}
	batch, err := e.store.scan(ep.Locator)
	if err != nil {
		return err
	}
	idx, err := ridIndex(batch.Columns, ep.Rid)
	if err != nil {
		return err
	}

	var rows [][]any
	for _, row := range batch.Rows {
		w := engine.NewWatermark(row[idx])
		if !w.Valid {
			continue
		}
		if min.Valid {
			c, err := w.Compare(min)
			if err != nil {
				return err
			}
			if c <= 0 {
				continue
			}
		}
		rows = append(rows, row)
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		c, err := engine.CompareValues(rows[i][idx], rows[j][idx])
		if err != nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return sortErr
	}

	e.mu.Lock()
	e.cur = &cursor{columns: batch.Columns, rows: rows}
	e.mu.Unlock()
	return nil
}

func (e *Engine) BeginFullFetch(ctx context.Context, ep engine.Endpoint) error {
	if err := e.enter(OpBeginFull); err != nil {
		return err
	}
	batch, err := e.store.scan(ep.Locator)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cur = &cursor{columns: batch.Columns, rows: batch.Rows}
	e.mu.Unlock()
	return nil
}

func (e *Engine) FetchBatch(ctx context.Context, size int) (engine.RowBatch, error) {
	if err := e.enter(OpFetch); err != nil {
		return engine.RowBatch{}, err
	}
	if size <= 0 {
		size = engine.DefaultBatchSize
	}

	e.mu.Lock()
	c := e.cur
	if c == nil {
		e.mu.Unlock()
		return engine.RowBatch{}, engine.ErrNoActiveCursor
	}
	end := min(c.pos+size, len(c.rows))
	batch := engine.RowBatch{Columns: c.columns, Rows: c.rows[c.pos:end]}
	c.pos = end
	hook := e.AfterFetch
	e.mu.Unlock()

	if hook != nil && batch.Len() > 0 {
		hook(batch)
	}
	return batch, nil
}

func (e *Engine) InsertBatch(ctx context.Context, ep engine.Endpoint, batch engine.RowBatch) error {
	if err := e.enter(OpInsert); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	name, err := engine.TableName(ep)
	if err != nil {
		return err
	}

	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("table %q does not exist", name)
	}
	pos := make([]int, len(batch.Columns))
	for i, c := range batch.Columns {
		idx, err := ridIndex(columnNames(t.Columns), c)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
		pos[i] = idx
	}
	for _, row := range batch.Rows {
		if len(row) != len(pos) {
			return fmt.Errorf("insert into %s: row has %d values, want %d", name, len(row), len(pos))
		}
		out := make([]any, len(t.Columns))
		for i, v := range row {
			out[pos[i]] = v
		}
		t.Rows = append(t.Rows, out)
	}
	return nil
}

func (e *Engine) Truncate(ctx context.Context, ep engine.Endpoint) error {
	if err := e.enter(OpTruncate); err != nil {
		return err
	}
	name, err := engine.TableName(ep)
	if err != nil {
		return err
	}
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("table %q does not exist", name)
	}
	t.Rows = nil
	return nil
}

func (e *Engine) Create(ctx context.Context, ep engine.Endpoint, cols []engine.Column) error {
	if err := e.enter(OpCreate); err != nil {
		return err
	}
	name, err := engine.TableName(ep)
	if err != nil {
		return err
	}
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[strings.ToLower(name)]; ok {
		return fmt.Errorf("table %q already exists", name)
	}
	s.tables[strings.ToLower(name)] = &Table{Columns: append([]engine.Column(nil), cols...)}
	return nil
}

func (e *Engine) Exists(ctx context.Context, ep engine.Endpoint) (bool, error) {
	if err := e.enter(OpExists); err != nil {
		return false, err
	}
	name, err := engine.TableName(ep)
	if err != nil {
		return false, err
	}
	return e.store.HasTable(name), nil
}

func (e *Engine) Describe(ctx context.Context, ep engine.Endpoint) ([]engine.Column, error) {
	if err := e.enter(OpDescribe); err != nil {
		return nil, err
	}
	if t, ok := ep.Locator.(engine.ByTable); ok {
		s := e.store
		s.mu.Lock()
		defer s.mu.Unlock()
		tbl, ok := s.tables[strings.ToLower(t.Name)]
		if !ok {
			return nil, fmt.Errorf("table %q does not exist", t.Name)
		}
		return append([]engine.Column(nil), tbl.Columns...), nil
	}
	batch, err := e.store.scan(ep.Locator)
	if err != nil {
		return nil, err
	}
	cols := make([]engine.Column, len(batch.Columns))
	for i, c := range batch.Columns {
		cols[i] = engine.Column{Name: c, Nullable: true}
	}
	return cols, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.enter(OpPing)
}

// Reconnect counts the call. Open cursors survive it.
func (e *Engine) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("memory reconnect: engine is closed")
	}
	e.reconnects++
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cur = nil
	e.mu.Unlock()
	return nil
}

// scan returns a snapshot of the rows behind a locator.
func (s *Store) scan(loc engine.Locator) (engine.RowBatch, error) {
	switch l := loc.(type) {
	case engine.ByTable:
		s.mu.Lock()
		defer s.mu.Unlock()
		t, ok := s.tables[strings.ToLower(l.Name)]
		if !ok {
			return engine.RowBatch{}, fmt.Errorf("table %q does not exist", l.Name)
		}
		rows := make([][]any, len(t.Rows))
		copy(rows, t.Rows)
		return engine.RowBatch{Columns: columnNames(t.Columns), Rows: rows}, nil
	case engine.ByQuery:
		s.mu.Lock()
		fn, ok := s.queries[strings.TrimSpace(l.SQL)]
		s.mu.Unlock()
		if !ok {
			return engine.RowBatch{}, fmt.Errorf("query not defined: %s", l.SQL)
		}
		return fn(s)
	default:
		return engine.RowBatch{}, fmt.Errorf("unsupported locator %T", loc)
	}
}

func ridIndex(cols []string, name string) (int, error) {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q not found", name)
}

func columnNames(cols []engine.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
