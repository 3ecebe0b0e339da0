package engine

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestNewLocator(t *testing.T) {
	loc, err := NewLocator("t", "select 1")
	if err != nil {
		t.Fatalf("NewLocator() error = %v", err)
	}
	if _, ok := loc.(ByQuery); !ok {
		t.Errorf("NewLocator(table, query) = %T, want ByQuery", loc)
	}
	loc, _ = NewLocator("t", "")
	if tbl, ok := loc.(ByTable); !ok || tbl.Name != "t" {
		t.Errorf("NewLocator(table) = %#v, want ByTable{t}", loc)
	}
	if _, err := NewLocator("", ""); err == nil {
		t.Error("NewLocator() with neither succeeded, want error")
	}
}

func TestTableName(t *testing.T) {
	if _, err := TableName(Endpoint{Locator: ByQuery{SQL: "select 1"}}); err == nil {
		t.Error("TableName(query) succeeded, want error")
	}
	name, err := TableName(Endpoint{Locator: ByTable{Name: "dbo.t"}})
	if err != nil || name != "dbo.t" {
		t.Errorf("TableName() = %q, %v", name, err)
	}
}

func TestEndpointSize(t *testing.T) {
	if got := (Endpoint{}).Size(); got != DefaultBatchSize {
		t.Errorf("Size() = %d, want %d", got, DefaultBatchSize)
	}
	if got := (Endpoint{BatchSize: 7}).Size(); got != 7 {
		t.Errorf("Size() = %d, want 7", got)
	}
}

func TestRowBatchChunks(t *testing.T) {
	b := RowBatch{Columns: []string{"a"}}
	for i := 0; i < 7; i++ {
		b.Rows = append(b.Rows, []any{i})
	}
	chunks := b.Chunks(3)
	if len(chunks) != 3 {
		t.Fatalf("Chunks(3) returned %d chunks, want 3", len(chunks))
	}
	if chunks[2].Len() != 1 || chunks[2].Rows[0][0] != 6 {
		t.Errorf("last chunk = %v, want [[6]]", chunks[2].Rows)
	}
	if got := b.Slice(5, 100).Len(); got != 2 {
		t.Errorf("Slice(5, 100).Len() = %d, want 2", got)
	}
}

func TestClassifyType(t *testing.T) {
	tests := map[string]ColumnType{
		"INT8":             TypeInteger,
		"varchar(50)":      TypeText,
		"NUMERIC(10,2)":    TypeDecimal,
		"datetime2":        TypeTimestamp,
		"BYTEA":            TypeBytes,
		"UNSIGNED BIG INT": TypeInteger,
		"":                 TypeText,
	}
	for name, want := range tests {
		if got := ClassifyType(name); got != want {
			t.Errorf("ClassifyType(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := NormalizeValue(TypeDecimal, []byte("1.50")); got != "1.50" {
		t.Errorf("NormalizeValue(decimal) = %#v, want \"1.50\"", got)
	}
	if _, ok := NormalizeValue(TypeBytes, []byte{1}).([]byte); !ok {
		t.Error("NormalizeValue(bytes) should keep []byte")
	}
	if got := NormalizeValue(TypeInteger, int64(3)); got != int64(3) {
		t.Errorf("NormalizeValue(int) = %#v", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"connection error", &ConnectionError{Engine: "x", Op: "y", Err: errors.New("boom")}, true},
		{"net error", timeoutErr{}, true},
		{"message marker", errors.New("write: broken pipe"), true},
		{"canceled", context.Canceled, false},
		{"syntax", errors.New("syntax error at or near SELECT"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionLost(tt.err); got != tt.want {
				t.Errorf("IsConnectionLost(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
