// Package verify compares two row sheets, typically a replication source
// and its destination. Rows are matched by their first column and every
// column is checked for null, class and value agreement.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/logging"
)

// Pair holds the values of one column from both sheets. A side that lacks
// the row holds nil.
type Pair struct {
	A, B any
}

// CheckOutputShape fails unless every row is non-empty and all rows have
// the same width. An empty sheet is valid.
func CheckOutputShape(rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			return &ShapeError{Row: i, Want: len(rows[0])}
		}
		if len(row) != len(rows[0]) {
			return &ShapeError{Row: i, Width: len(row), Want: len(rows[0])}
		}
	}
	return nil
}

// CheckUniqueKey fails if a first-column key is null or appears twice.
func CheckUniqueKey(rows [][]any) error {
	seen := make(map[key]int, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			return &ShapeError{Row: i}
		}
		if row[0] == nil {
			return &DuplicateKeyError{Rows: []int{i}, Null: true}
		}
		k := keyOf(row[0])
		if j, ok := seen[k]; ok {
			return &DuplicateKeyError{Key: row[0], Rows: []int{j, i}}
		}
		seen[k] = i
	}
	return nil
}

// MergeOutputs outer-joins two sheets on their first column. Rows of a
// come first in their order, followed by rows found only in b. Both
// sheets must have unique keys.
func MergeOutputs(a, b [][]any) [][]Pair {
	index := make(map[key]int, len(b))
	for i, row := range b {
		if len(row) > 0 {
			index[keyOf(row[0])] = i
		}
	}

	out := make([][]Pair, 0, len(a)+len(b))
	matched := make([]bool, len(b))
	for _, ra := range a {
		var rb []any
		if len(ra) > 0 {
			if j, ok := index[keyOf(ra[0])]; ok {
				rb = b[j]
				matched[j] = true
			}
		}
		out = append(out, pairRow(ra, rb))
	}
	for j, rb := range b {
		if !matched[j] {
			out = append(out, pairRow(nil, rb))
		}
	}
	return out
}

func pairRow(a, b []any) []Pair {
	row := make([]Pair, max(len(a), len(b)))
	for i := range row {
		if i < len(a) {
			row[i].A = a[i]
		}
		if i < len(b) {
			row[i].B = b[i]
		}
	}
	return row
}

// checks run in order on every cell; the first failure is the cell's.
var checks = []func(a, b any) error{CheckElemNull, CheckElemClass, CheckElemValue}

func checkElem(p Pair) *ElemError {
	for _, check := range checks {
		if err := check(p.A, p.B); err != nil {
			return err.(*ElemError)
		}
	}
	return nil
}

// CompareColumns runs every element check on every cell of merged and
// returns one *ColumnDiffError naming all failing columns. names labels
// the columns; missing names are replaced by the column index.
func CompareColumns(merged [][]Pair, names []string) error {
	var width int
	for _, row := range merged {
		width = max(width, len(row))
	}
	failures := make([]ColumnFailure, width)
	for i := range failures {
		failures[i].Index = i
		failures[i].Name = columnName(names, i)
	}

	for r, row := range merged {
		for c, p := range row {
			if err := checkElem(p); err != nil {
				f := &failures[c]
				if f.First == nil {
					f.First, f.Row = err, r
				}
				f.Rows++
			}
		}
	}

	var diff ColumnDiffError
	diff.Rows = len(merged)
	for _, f := range failures {
		if f.Rows > 0 {
			diff.Columns = append(diff.Columns, f)
		}
	}
	if len(diff.Columns) == 0 {
		return nil
	}
	return &diff
}

func columnName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("#%d", i)
}

// RowDiff lists the columns of one merged row that failed a check.
type RowDiff struct {
	Key     any
	Columns []int
}

// Diff returns, in merged order, every row with at least one failing
// column.
func Diff(merged [][]Pair) []RowDiff {
	var out []RowDiff
	for _, row := range merged {
		var cols []int
		for c, p := range row {
			if checkElem(p) != nil {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			continue
		}
		var k any
		if len(row) > 0 {
			k = row[0].A
			if k == nil {
				k = row[0].B
			}
		}
		out = append(out, RowDiff{Key: k, Columns: cols})
	}
	return out
}

// CompareSheets checks that two sheets hold the same rows, regardless of
// row order. Column names are compared case-insensitively.
func CompareSheets(namesA []string, a [][]any, namesB []string, b [][]any) error {
	if !sameNames(namesA, namesB) {
		return &HeaderError{A: namesA, B: namesB}
	}
	for _, sheet := range [][][]any{a, b} {
		if err := CheckOutputShape(sheet); err != nil {
			return err
		}
		if err := CheckUniqueKey(sheet); err != nil {
			return err
		}
	}
	return CompareColumns(MergeOutputs(a, b), namesA)
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Sheet is every row of an endpoint with its column names.
type Sheet struct {
	Columns []string
	Rows    [][]any
}

// ReadSheet drains a full fetch of ep.
func ReadSheet(ctx context.Context, e engine.Engine, ep engine.Endpoint) (*Sheet, error) {
	if err := e.BeginFullFetch(ctx, ep); err != nil {
		return nil, fmt.Errorf("reading %s: %w", ep, err)
	}
	s := &Sheet{}
	for {
		batch, err := e.FetchBatch(ctx, ep.Size())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ep, err)
		}
		if s.Columns == nil {
			s.Columns = batch.Columns
		}
		if batch.Len() == 0 {
			return s, nil
		}
		s.Rows = append(s.Rows, batch.Rows...)
	}
}

// CompareTables reads both endpoints in full and compares them with
// CompareSheets.
func CompareTables(ctx context.Context, src, dst engine.Engine, srcEp, dstEp engine.Endpoint) error {
	a, err := ReadSheet(ctx, src, srcEp)
	if err != nil {
		return err
	}
	b, err := ReadSheet(ctx, dst, dstEp)
	if err != nil {
		return err
	}
	logging.Debug("Comparing %d source rows with %d destination rows", len(a.Rows), len(b.Rows))
	return CompareSheets(a.Columns, a.Rows, b.Columns, b.Rows)
}
