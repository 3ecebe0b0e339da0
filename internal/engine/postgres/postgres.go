// Package postgres provides the PostgreSQL engine. Reads go through
// database/sql with lib/pq; inserts use the binary COPY protocol via pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// Factory opens PostgreSQL engines.
type Factory struct{}

func (Factory) Name() string { return "postgres" }

func (Factory) Aliases() []string { return []string{"postgresql", "pg"} }

func (Factory) Open(ctx context.Context, conn dbconfig.Connection) (engine.Engine, error) {
	e, err := engine.NewSQLEngine(ctx, NewBackend(conn))
	if err != nil {
		return nil, err
	}
	logging.Info("Connected to PostgreSQL %s", describe(conn))
	return e, nil
}

// Backend connects to PostgreSQL. The COPY pool is created on first write.
type Backend struct {
	conn    dbconfig.Connection
	dialect *Dialect

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewBackend returns a backend for conn.
func NewBackend(conn dbconfig.Connection) *Backend {
	return &Backend{conn: conn, dialect: &Dialect{}}
}

func (b *Backend) Dialect() engine.Dialect { return b.dialect }

func (b *Backend) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", b.dialect.BuildDSN(b.conn))
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

func (b *Backend) copyPool(ctx context.Context) (*pgxpool.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		return b.pool, nil
	}
	cfg, err := pgxpool.ParseConfig(b.dialect.BuildDSN(b.conn))
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	if b.conn.MaxConns > 0 {
		cfg.MaxConns = int32(b.conn.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	b.pool = pool
	return pool, nil
}

// WriteBatch appends rows with COPY FROM STDIN.
func (b *Backend) WriteBatch(ctx context.Context, _ *sql.DB, table string, batch engine.RowBatch) error {
	pool, err := b.copyPool(ctx)
	if err != nil {
		return err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	n, err := conn.Conn().CopyFrom(ctx, identifier(table), batch.Columns, pgx.CopyFromRows(batch.Rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	if int(n) != batch.Len() {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, batch.Len())
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}

func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func describe(conn dbconfig.Connection) string {
	if conn.ConnStr != "" {
		return dbconfig.RedactDSN(conn.ConnStr)
	}
	return fmt.Sprintf("%s:%d/%s", conn.Host, conn.Port, conn.Database)
}
