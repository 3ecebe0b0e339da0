package mssql

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
)

// Dialect implements engine.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mssql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QuoteTable(name string) string {
	return engine.QuoteDotted(name, d.QuoteIdentifier)
}

func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

func (d *Dialect) ColumnDDL(t engine.ColumnType) string {
	switch t {
	case engine.TypeInteger:
		return "BIGINT"
	case engine.TypeFloat:
		return "FLOAT"
	case engine.TypeDecimal:
		return "DECIMAL(38,10)"
	case engine.TypeBool:
		return "BIT"
	case engine.TypeTimestamp:
		return "DATETIME2"
	case engine.TypeDate:
		return "DATE"
	case engine.TypeBytes:
		return "VARBINARY(MAX)"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (d *Dialect) TruncateSQL(quotedTable string) string {
	return "TRUNCATE TABLE " + quotedTable
}

func (d *Dialect) TableExistsSQL() string {
	return "SELECT CASE WHEN OBJECT_ID(@p1, 'U') IS NULL THEN 0 ELSE 1 END"
}

// MaxParams leaves headroom below the 2100 parameter limit.
func (d *Dialect) MaxParams() int { return 2000 }

// BuildDSN returns a sqlserver:// URL for conn. An explicit conn-str wins.
func (d *Dialect) BuildDSN(conn dbconfig.Connection) string {
	if conn.ConnStr != "" {
		return conn.ConnStr
	}
	port := conn.Port
	if port == 0 {
		port = 1433
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		url.QueryEscape(conn.User), url.QueryEscape(conn.Password),
		conn.Host, port, url.QueryEscape(conn.Database))

	if conn.Encrypt != nil {
		if *conn.Encrypt {
			dsn += "&encrypt=true"
		} else {
			dsn += "&encrypt=false"
		}
	}
	if conn.TrustServerCertificate {
		dsn += "&TrustServerCertificate=true"
	}
	keys := make([]string, 0, len(conn.Params))
	for k := range conn.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(conn.Params[k])
	}
	return dsn
}
