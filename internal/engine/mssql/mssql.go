// Package mssql provides the SQL Server engine. Inserts use the TDS bulk
// copy protocol.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// Factory opens SQL Server engines.
type Factory struct{}

func (Factory) Name() string { return "mssql" }

func (Factory) Aliases() []string { return []string{"sqlserver"} }

func (Factory) Open(ctx context.Context, conn dbconfig.Connection) (engine.Engine, error) {
	e, err := engine.NewSQLEngine(ctx, NewBackend(conn))
	if err != nil {
		return nil, err
	}
	logging.Info("Connected to SQL Server %s:%d/%s", conn.Host, conn.Port, conn.Database)
	return e, nil
}

// Backend connects to SQL Server.
type Backend struct {
	conn    dbconfig.Connection
	dialect *Dialect
}

// NewBackend returns a backend for conn.
func NewBackend(conn dbconfig.Connection) *Backend {
	return &Backend{conn: conn, dialect: &Dialect{}}
}

func (b *Backend) Dialect() engine.Dialect { return b.dialect }

func (b *Backend) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", b.dialect.BuildDSN(b.conn))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	if b.conn.MaxConns > 0 {
		db.SetMaxOpenConns(b.conn.MaxConns)
		db.SetMaxIdleConns(max(b.conn.MaxConns/4, 1))
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// WriteBatch appends rows with a bulk copy inside one transaction.
func (b *Backend) WriteBatch(ctx context.Context, db *sql.DB, table string, batch engine.RowBatch) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	opts := mssql.BulkOptions{RowsPerBatch: batch.Len()}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(b.dialect.QuoteTable(table), opts, batch.Columns...))
	if err != nil {
		return fmt.Errorf("preparing bulk copy: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("bulk copy row: %w", err)
		}
	}
	// A final exec without arguments flushes the buffered rows.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flushing bulk copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing bulk copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk copy: %w", err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }
