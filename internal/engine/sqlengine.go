package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/stats"
)

// SQLEngine implements Engine on top of database/sql. Database families
// plug in through a Backend that provides the connection and the dialect.
type SQLEngine struct {
	backend Backend
	dialect Dialect
	db      *sql.DB
	cur     *cursor
}

type cursorKind int

const (
	fullCursor cursorKind = iota
	incrementalCursor
)

// cursor is the state of the single open read. After a reconnect it is
// marked stale and reopened on the next fetch, resuming after the rows
// already delivered.
type cursor struct {
	kind    cursorKind
	ep      Endpoint
	min     Watermark
	rows    *sql.Rows
	columns []string
	types   []ColumnType
	ridIdx  int

	done  bool
	stale bool

	delivered int64
	lastRid   Watermark
	ties      int // delivered rows whose rid equals lastRid

	skipRows int64 // full cursor: rows to discard after reopening
	skipTies int   // incremental cursor: boundary rows to discard after reopening
}

// NewSQLEngine opens the backend and verifies the connection.
func NewSQLEngine(ctx context.Context, backend Backend) (*SQLEngine, error) {
	db, err := backend.Open(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		backend.Close()
		return nil, &ConnectionError{Engine: backend.Dialect().DBType(), Op: "open", Err: err}
	}
	return &SQLEngine{backend: backend, dialect: backend.Dialect(), db: db}, nil
}

func (e *SQLEngine) Name() string { return e.dialect.DBType() }

// Dialect returns the SQL dialect in use.
func (e *SQLEngine) Dialect() Dialect { return e.dialect }

// DB returns the underlying pool.
func (e *SQLEngine) DB() *sql.DB { return e.db }

// Stats returns pool statistics for logging.
func (e *SQLEngine) Stats() stats.PoolStats {
	return stats.FromDB(e.dialect.DBType(), e.db.Stats())
}

func (e *SQLEngine) source(loc Locator) (string, error) {
	switch l := loc.(type) {
	case ByTable:
		return e.dialect.QuoteTable(l.Name), nil
	case ByQuery:
		q := strings.TrimRight(strings.TrimSpace(l.SQL), ";")
		return "(" + q + ") t", nil
	default:
		return "", fmt.Errorf("unsupported locator %T", loc)
	}
}

func (e *SQLEngine) GetLatestRid(ctx context.Context, ep Endpoint) (Watermark, error) {
	if ep.Rid == "" {
		return Watermark{}, fmt.Errorf("%s: rid column is required", ep)
	}
	src, err := e.source(ep.Locator)
	if err != nil {
		return Watermark{}, err
	}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", e.dialect.QuoteIdentifier(ep.Rid), src)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return Watermark{}, fmt.Errorf("querying latest rid of %s: %w", ep, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return Watermark{}, fmt.Errorf("querying latest rid of %s: %w", ep, err)
	}
	var v any
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return Watermark{}, fmt.Errorf("querying latest rid of %s: %w", ep, err)
		}
	}
	if err := rows.Err(); err != nil {
		return Watermark{}, fmt.Errorf("querying latest rid of %s: %w", ep, err)
	}
	t := ClassifyType(colTypes[0].DatabaseTypeName())
	return NewTypedWatermark(t, NormalizeValue(t, v)), nil
}

func (e *SQLEngine) BeginIncrementalFetch(ctx context.Context, ep Endpoint, min Watermark) error {
	if ep.Rid == "" {
		return fmt.Errorf("%s: rid column is required for incremental fetch", ep)
	}
	e.closeCursor()
	c := &cursor{kind: incrementalCursor, ep: ep, min: min}
	if err := e.open(ctx, c, min, false); err != nil {
		return err
	}
	e.cur = c
	return nil
}

func (e *SQLEngine) BeginFullFetch(ctx context.Context, ep Endpoint) error {
	e.closeCursor()
	c := &cursor{kind: fullCursor, ep: ep, ridIdx: -1}
	if err := e.open(ctx, c, Watermark{}, false); err != nil {
		return err
	}
	e.cur = c
	return nil
}

// open runs the cursor query. inclusive selects rid >= min, used when
// resuming after a reconnect.
func (e *SQLEngine) open(ctx context.Context, c *cursor, min Watermark, inclusive bool) error {
	src, err := e.source(c.ep.Locator)
	if err != nil {
		return err
	}

	var (
		query string
		args  []any
	)
	switch {
	case c.kind == fullCursor:
		query = "SELECT * FROM " + src
	case min.Valid:
		op := ">"
		if inclusive {
			op = ">="
		}
		rid := e.dialect.QuoteIdentifier(c.ep.Rid)
		query = fmt.Sprintf("SELECT * FROM %s WHERE %s %s %s ORDER BY %s",
			src, rid, op, e.dialect.Placeholder(1), rid)
		args = []any{min.Arg()}
	default:
		rid := e.dialect.QuoteIdentifier(c.ep.Rid)
		query = fmt.Sprintf("SELECT * FROM %s ORDER BY %s", src, rid)
	}

	logging.Debug("%s: %s", e.Name(), query)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("opening cursor on %s: %w", c.ep, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return fmt.Errorf("reading columns of %s: %w", c.ep, err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return fmt.Errorf("reading column types of %s: %w", c.ep, err)
	}

	c.rows = rows
	c.columns = cols
	c.types = make([]ColumnType, len(colTypes))
	for i, ct := range colTypes {
		c.types[i] = ClassifyType(ct.DatabaseTypeName())
	}
	if c.kind == incrementalCursor {
		c.ridIdx = -1
		for i, name := range cols {
			if strings.EqualFold(name, c.ep.Rid) {
				c.ridIdx = i
				break
			}
		}
		if c.ridIdx < 0 {
			rows.Close()
			return fmt.Errorf("rid column %q not found in %s", c.ep.Rid, c.ep)
		}
	}
	return nil
}

// reopen re-runs a stale cursor so that it continues after the rows already
// delivered. Incremental cursors resume at rid >= lastRid and drop the
// boundary rows seen before; full cursors drop the delivered row count.
func (e *SQLEngine) reopen(ctx context.Context) error {
	c := e.cur
	min, inclusive := c.min, false
	if c.kind == incrementalCursor && c.delivered > 0 {
		min, inclusive = c.lastRid, true
		c.skipTies = c.ties
	}
	if c.kind == fullCursor {
		c.skipRows = c.delivered
	}
	if err := e.open(ctx, c, min, inclusive); err != nil {
		return err
	}
	c.stale = false
	logging.Info("%s: reopened cursor on %s after %d rows", e.Name(), c.ep, c.delivered)
	return nil
}

func (e *SQLEngine) FetchBatch(ctx context.Context, size int) (RowBatch, error) {
	c := e.cur
	if c == nil {
		return RowBatch{}, ErrNoActiveCursor
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	if c.stale {
		if err := e.reopen(ctx); err != nil {
			return RowBatch{}, err
		}
	}
	if c.done {
		return RowBatch{Columns: c.columns}, nil
	}

	rows := make([][]any, 0, size)
	for len(rows) < size {
		if err := ctx.Err(); err != nil {
			return RowBatch{}, err
		}
		if !c.rows.Next() {
			if err := c.rows.Err(); err != nil {
				return RowBatch{}, fmt.Errorf("fetching from %s: %w", c.ep, err)
			}
			c.rows.Close()
			c.done = true
			break
		}
		row, err := c.scan()
		if err != nil {
			return RowBatch{}, err
		}
		if c.skip(row) {
			continue
		}
		rows = append(rows, row)
	}

	for _, row := range rows {
		c.advance(row)
	}
	return RowBatch{Columns: c.columns, Rows: rows}, nil
}

func (c *cursor) scan() ([]any, error) {
	values := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row from %s: %w", c.ep, err)
	}
	for i, v := range values {
		values[i] = NormalizeValue(c.types[i], v)
	}
	return values, nil
}

// rid returns the rid of row tagged with its column's ordering.
func (c *cursor) rid(row []any) any {
	return RidValue(c.types[c.ridIdx], row[c.ridIdx])
}

// skip reports whether a row was already delivered before a reopen.
func (c *cursor) skip(row []any) bool {
	if c.skipRows > 0 {
		c.skipRows--
		return true
	}
	if c.skipTies > 0 {
		if cmp, err := CompareValues(c.rid(row), c.lastRid.Value); err == nil && cmp == 0 {
			c.skipTies--
			return true
		}
		c.skipTies = 0
	}
	return false
}

func (c *cursor) advance(row []any) {
	c.delivered++
	if c.kind != incrementalCursor {
		return
	}
	w := NewWatermark(c.rid(row))
	if cmp, err := w.Compare(c.lastRid); err == nil && cmp == 0 && c.lastRid.Valid {
		c.ties++
		return
	}
	c.lastRid = w
	c.ties = 1
}

func (e *SQLEngine) closeCursor() {
	if e.cur != nil && e.cur.rows != nil {
		e.cur.rows.Close()
	}
	e.cur = nil
}

func (e *SQLEngine) InsertBatch(ctx context.Context, ep Endpoint, batch RowBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	table, err := TableName(ep)
	if err != nil {
		return err
	}
	if w, ok := e.backend.(BatchWriter); ok {
		if err := w.WriteBatch(ctx, e.db, table, batch); err != nil {
			return fmt.Errorf("writing %d rows to %s: %w", batch.Len(), table, err)
		}
		return nil
	}
	if err := InsertRows(ctx, e.db, e.dialect, table, batch); err != nil {
		return fmt.Errorf("writing %d rows to %s: %w", batch.Len(), table, err)
	}
	return nil
}

// InsertRows writes batch with multi-row INSERT statements inside one
// transaction, splitting statements to respect the dialect's parameter limit.
func InsertRows(ctx context.Context, db *sql.DB, d Dialect, table string, batch RowBatch) error {
	ncols := len(batch.Columns)
	if ncols == 0 {
		return errors.New("batch has no columns")
	}
	perStmt := d.MaxParams() / ncols
	if perStmt < 1 {
		perStmt = 1
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.QuoteTable(table), ColumnList(d, batch.Columns))
	for _, chunk := range batch.Chunks(perStmt) {
		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, chunk.Len()*ncols)
		for i, row := range chunk.Rows {
			if len(row) != ncols {
				return fmt.Errorf("row %d has %d values, want %d", i, len(row), ncols)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(d.Placeholder(len(args) + j + 1))
			}
			sb.WriteByte(')')
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

func (e *SQLEngine) Truncate(ctx context.Context, ep Endpoint) error {
	table, err := TableName(ep)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, e.dialect.TruncateSQL(e.dialect.QuoteTable(table))); err != nil {
		return fmt.Errorf("truncating %s: %w", table, err)
	}
	return nil
}

func (e *SQLEngine) Create(ctx context.Context, ep Endpoint, cols []Column) error {
	table, err := TableName(ep)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("creating %s: no columns", table)
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = e.dialect.QuoteIdentifier(c.Name) + " " + e.dialect.ColumnDDL(c.Type)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", e.dialect.QuoteTable(table), strings.Join(defs, ", "))
	logging.Debug("%s: %s", e.Name(), stmt)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}
	return nil
}

func (e *SQLEngine) Exists(ctx context.Context, ep Endpoint) (bool, error) {
	table, err := TableName(ep)
	if err != nil {
		return false, err
	}
	var n int
	if err := e.db.QueryRowContext(ctx, e.dialect.TableExistsSQL(), table).Scan(&n); err != nil {
		return false, fmt.Errorf("checking %s: %w", table, err)
	}
	return n > 0, nil
}

func (e *SQLEngine) Describe(ctx context.Context, ep Endpoint) ([]Column, error) {
	src, err := e.source(ep.Locator)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, "SELECT * FROM "+src+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", ep, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", ep, err)
	}
	cols := make([]Column, len(colTypes))
	for i, ct := range colTypes {
		nullable, ok := ct.Nullable()
		dbType := strings.ToUpper(ct.DatabaseTypeName())
		cols[i] = Column{
			Name:         ct.Name(),
			Type:         ClassifyType(dbType),
			DatabaseType: dbType,
			Nullable:     nullable || !ok,
		}
	}
	return cols, rows.Err()
}

func (e *SQLEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Reconnect closes the pool and opens a new one. An open cursor becomes
// stale and is reopened by the next FetchBatch.
func (e *SQLEngine) Reconnect(ctx context.Context) error {
	if e.cur != nil {
		if e.cur.rows != nil {
			e.cur.rows.Close()
		}
		if !e.cur.done {
			e.cur.stale = true
		}
	}
	e.db.Close()
	e.backend.Close()

	db, err := e.backend.Open(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	e.db = db
	return nil
}

func (e *SQLEngine) Close() error {
	e.closeCursor()
	err := e.db.Close()
	if berr := e.backend.Close(); err == nil {
		err = berr
	}
	return err
}
