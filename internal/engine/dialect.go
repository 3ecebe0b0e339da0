package engine

import (
	"context"
	"database/sql"
	"strings"
)

// Dialect abstracts the SQL syntax differences between database families.
type Dialect interface {
	// DBType returns the engine type (e.g. "postgres").
	DBType() string

	// QuoteIdentifier quotes a single identifier.
	QuoteIdentifier(name string) string

	// QuoteTable quotes a possibly schema-qualified table name.
	QuoteTable(name string) string

	// Placeholder returns the bind parameter marker for the 1-based index.
	Placeholder(index int) string

	// ColumnDDL returns the column type used when creating tables.
	ColumnDDL(t ColumnType) string

	// TruncateSQL returns the statement that empties a quoted table.
	TruncateSQL(quotedTable string) string

	// TableExistsSQL returns a query with one parameter (the unquoted table
	// name) that yields 1 when the table exists and 0 otherwise.
	TableExistsSQL() string

	// MaxParams is the bind parameter limit of one statement.
	MaxParams() int
}

// Backend supplies the connection and dialect of one database family to
// SQLEngine.
type Backend interface {
	Dialect() Dialect

	// Open returns a fresh connection pool. It is called again on reconnect.
	Open(ctx context.Context) (*sql.DB, error)

	// Close releases backend-owned resources other than the *sql.DB.
	Close() error
}

// BatchWriter is an optional Backend fast path for InsertBatch.
type BatchWriter interface {
	WriteBatch(ctx context.Context, db *sql.DB, table string, batch RowBatch) error
}

// QuoteDotted quotes each dot-separated part of name with quote.
func QuoteDotted(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

// ColumnList quotes and joins column names.
func ColumnList(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}
