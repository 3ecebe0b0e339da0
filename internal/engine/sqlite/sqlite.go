// Package sqlite provides an embedded SQLite engine on the pure-Go
// modernc.org/sqlite driver. It needs no server, which makes it the engine
// of choice for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// Dialect implements engine.Dialect for SQLite.
type Dialect struct{}

func (d *Dialect) DBType() string { return "sqlite" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) QuoteTable(name string) string {
	return engine.QuoteDotted(name, d.QuoteIdentifier)
}

func (d *Dialect) Placeholder(int) string { return "?" }

func (d *Dialect) ColumnDDL(t engine.ColumnType) string {
	switch t {
	case engine.TypeInteger:
		return "INTEGER"
	case engine.TypeFloat:
		return "REAL"
	case engine.TypeDecimal:
		return "NUMERIC"
	case engine.TypeBool:
		return "BOOLEAN"
	case engine.TypeTimestamp:
		return "DATETIME"
	case engine.TypeDate:
		return "DATE"
	case engine.TypeBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// TruncateSQL uses DELETE; SQLite has no TRUNCATE statement.
func (d *Dialect) TruncateSQL(quotedTable string) string {
	return "DELETE FROM " + quotedTable
}

func (d *Dialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (d *Dialect) MaxParams() int { return 32766 }

// Factory opens SQLite engines.
type Factory struct{}

func (Factory) Name() string { return "sqlite" }

func (Factory) Aliases() []string { return []string{"sqlite3"} }

func (Factory) Open(ctx context.Context, conn dbconfig.Connection) (engine.Engine, error) {
	e, err := engine.NewSQLEngine(ctx, NewBackend(conn))
	if err != nil {
		return nil, err
	}
	logging.Debug("Opened SQLite database %s", databasePath(conn))
	return e, nil
}

// Backend opens a SQLite database file in WAL mode.
type Backend struct {
	conn    dbconfig.Connection
	dialect *Dialect
}

// NewBackend returns a backend for conn. The file comes from conn.Path,
// falling back to conn.ConnStr and then conn.Database.
func NewBackend(conn dbconfig.Connection) *Backend {
	return &Backend{conn: conn, dialect: &Dialect{}}
}

func (b *Backend) Dialect() engine.Dialect { return b.dialect }

func (b *Backend) Open(ctx context.Context) (*sql.DB, error) {
	path := databasePath(b.conn)
	if path == "" {
		return nil, fmt.Errorf("sqlite connection %q: path is required", b.conn.Name)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if b.conn.MaxConns > 0 {
		db.SetMaxOpenConns(b.conn.MaxConns)
	}
	return db, nil
}

func (b *Backend) Close() error { return nil }

// DSN returns the driver DSN for a database file.
func DSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func databasePath(conn dbconfig.Connection) string {
	switch {
	case conn.Path != "":
		return conn.Path
	case conn.ConnStr != "":
		return conn.ConnStr
	default:
		return conn.Database
	}
}
