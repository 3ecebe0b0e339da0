package postgres

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
)

// Dialect implements engine.Dialect for PostgreSQL.
type Dialect struct{}

func (d *Dialect) DBType() string { return "postgres" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) QuoteTable(name string) string {
	return engine.QuoteDotted(name, d.QuoteIdentifier)
}

func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *Dialect) ColumnDDL(t engine.ColumnType) string {
	switch t {
	case engine.TypeInteger:
		return "BIGINT"
	case engine.TypeFloat:
		return "DOUBLE PRECISION"
	case engine.TypeDecimal:
		return "NUMERIC"
	case engine.TypeBool:
		return "BOOLEAN"
	case engine.TypeTimestamp:
		return "TIMESTAMP"
	case engine.TypeDate:
		return "DATE"
	case engine.TypeBytes:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (d *Dialect) TruncateSQL(quotedTable string) string {
	return "TRUNCATE TABLE " + quotedTable
}

func (d *Dialect) TableExistsSQL() string {
	return "SELECT CASE WHEN to_regclass($1) IS NULL THEN 0 ELSE 1 END"
}

func (d *Dialect) MaxParams() int { return 65535 }

// BuildDSN returns a postgres:// URL for conn. An explicit conn-str wins.
func (d *Dialect) BuildDSN(conn dbconfig.Connection) string {
	if conn.ConnStr != "" {
		return conn.ConnStr
	}
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(conn.User), url.QueryEscape(conn.Password),
		conn.Host, port, url.QueryEscape(conn.Database))

	params := url.Values{}
	if conn.SSLMode != "" {
		params.Set("sslmode", conn.SSLMode)
	} else {
		params.Set("sslmode", "prefer")
	}
	keys := make([]string, 0, len(conn.Params))
	for k := range conn.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set(k, conn.Params[k])
	}
	return dsn + "?" + params.Encode()
}
