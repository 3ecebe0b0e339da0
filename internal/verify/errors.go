package verify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrVerification matches every error returned by this package.
var ErrVerification = errors.New("verification failed")

// ShapeError reports a sheet whose rows are empty or of uneven width.
type ShapeError struct {
	Row   int
	Width int
	Want  int
}

func (e *ShapeError) Error() string {
	if e.Width == 0 {
		return fmt.Sprintf("row %d is empty", e.Row)
	}
	return fmt.Sprintf("row %d has %d columns, want %d", e.Row, e.Width, e.Want)
}

func (e *ShapeError) Is(target error) bool { return target == ErrVerification }

// DuplicateKeyError reports a repeated or null first-column key.
type DuplicateKeyError struct {
	Key  any
	Rows []int
	Null bool
}

func (e *DuplicateKeyError) Error() string {
	if e.Null {
		return fmt.Sprintf("row %d has a null key", e.Rows[0])
	}
	return fmt.Sprintf("key %v appears in rows %v", e.Key, e.Rows)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrVerification }

// ElemError is a failed comparison of one pair of values.
type ElemError struct {
	Check string // "null", "class" or "value"
	A, B  any
	Msg   string
}

func (e *ElemError) Error() string {
	return fmt.Sprintf("%s mismatch: %s (%#v vs %#v)", e.Check, e.Msg, e.A, e.B)
}

func (e *ElemError) Is(target error) bool { return target == ErrVerification }

// ColumnFailure summarises the failures of one column.
type ColumnFailure struct {
	Index int
	Name  string
	Rows  int        // rows that failed
	First *ElemError // first failure, in row order
	Row   int        // row of First
}

// ColumnDiffError names every column that failed any element check.
type ColumnDiffError struct {
	Columns []ColumnFailure
	Rows    int // rows compared
}

func (e *ColumnDiffError) Error() string {
	parts := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		parts[i] = fmt.Sprintf("%s: %d/%d rows differ, first at row %d: %v", c.Name, c.Rows, e.Rows, c.Row, c.First)
	}
	return fmt.Sprintf("%d columns differ: %s", len(e.Columns), strings.Join(parts, "; "))
}

func (e *ColumnDiffError) Is(target error) bool { return target == ErrVerification }

// Names returns the names of the failing columns.
func (e *ColumnDiffError) Names() []string {
	out := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		out[i] = c.Name
	}
	return out
}

// HeaderError reports sheets whose column names differ.
type HeaderError struct {
	A, B []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("column names differ: %v != %v", e.A, e.B)
}

func (e *HeaderError) Is(target error) bool { return target == ErrVerification }
