package engine

import (
	"strings"
)

// ColumnType is the portable class of a column, used to create destination
// tables on a different database family than the source.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeDate
	TypeBytes
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeBytes:
		return "bytes"
	default:
		return "text"
	}
}

// Column describes one column of a row source.
type Column struct {
	Name         string
	Type         ColumnType
	DatabaseType string // type name reported by the driver, upper case
	Nullable     bool
}

// typeClasses maps driver type names to portable classes. Names are matched
// after stripping any "(n,m)" suffix.
var typeClasses = map[string]ColumnType{
	"INT": TypeInteger, "INTEGER": TypeInteger, "BIGINT": TypeInteger, "SMALLINT": TypeInteger,
	"TINYINT": TypeInteger, "INT2": TypeInteger, "INT4": TypeInteger, "INT8": TypeInteger,
	"SERIAL": TypeInteger, "BIGSERIAL": TypeInteger, "MEDIUMINT": TypeInteger,

	"FLOAT": TypeFloat, "FLOAT4": TypeFloat, "FLOAT8": TypeFloat, "REAL": TypeFloat,
	"DOUBLE": TypeFloat, "DOUBLE PRECISION": TypeFloat,

	"NUMERIC": TypeDecimal, "DECIMAL": TypeDecimal, "MONEY": TypeDecimal, "SMALLMONEY": TypeDecimal,

	"BOOL": TypeBool, "BOOLEAN": TypeBool, "BIT": TypeBool,

	"TIMESTAMP": TypeTimestamp, "TIMESTAMPTZ": TypeTimestamp, "DATETIME": TypeTimestamp,
	"DATETIME2": TypeTimestamp, "SMALLDATETIME": TypeTimestamp, "DATETIMEOFFSET": TypeTimestamp,
	"TIMESTAMP WITH TIME ZONE": TypeTimestamp, "TIMESTAMP WITHOUT TIME ZONE": TypeTimestamp,

	"DATE": TypeDate,

	"BYTEA": TypeBytes, "BLOB": TypeBytes, "VARBINARY": TypeBytes, "BINARY": TypeBytes,
	"IMAGE": TypeBytes, "UNIQUEIDENTIFIER": TypeBytes,
}

// ClassifyType maps a driver-reported type name to a portable class.
// Unknown names are treated as text.
func ClassifyType(dbType string) ColumnType {
	name := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if t, ok := typeClasses[name]; ok {
		return t
	}
	switch {
	case strings.Contains(name, "INT"):
		return TypeInteger
	case strings.Contains(name, "CHAR"), strings.Contains(name, "TEXT"), strings.Contains(name, "CLOB"):
		return TypeText
	case strings.Contains(name, "TIMESTAMP"), strings.Contains(name, "DATETIME"):
		return TypeTimestamp
	}
	return TypeText
}

// NormalizeValue converts a scanned driver value into a driver-neutral one.
// Byte slices are kept only for binary columns; everything else that arrives
// as bytes (decimals, text from some drivers) becomes a string.
func NormalizeValue(t ColumnType, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if t == TypeBytes {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return string(b)
}
