package verify

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/engine/memengine"
)

func TestCheckOutputShape(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]any
		wantErr bool
	}{
		{"empty sheet", nil, false},
		{"single column", [][]any{{"test"}}, false},
		{"uniform", [][]any{{"test"}, {1}, {3}}, false},
		{"empty row", [][]any{{}}, true},
		{"empty row after valid", [][]any{{1}, {}}, true},
		{"ragged", [][]any{{1, "a"}, {2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOutputShape(tt.rows)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckOutputShape() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var shapeErr *ShapeError
				if !errors.As(err, &shapeErr) || !errors.Is(err, ErrVerification) {
					t.Errorf("error %T is not a *ShapeError verification error", err)
				}
			}
		})
	}
}

func TestCheckUniqueKey(t *testing.T) {
	tests := []struct {
		name     string
		rows     [][]any
		wantErr  bool
		wantNull bool
	}{
		{"duplicate", [][]any{{0}, {0}}, true, false},
		{"null key", [][]any{{0}, {1}, {nil}}, true, true},
		{"duplicate with ragged rows", [][]any{{0}, {0, "0"}}, true, false},
		{"string is not a number", [][]any{{0}, {"0"}}, false, false},
		{"distinct", [][]any{{0}, {1, "0"}}, false, false},
		{"int and integral float collide", [][]any{{int64(1)}, {1.0}}, true, false},
		{"int widths collide", [][]any{{int32(7)}, {uint8(7)}}, true, false},
		{"fractional floats differ", [][]any{{1.5}, {1.25}}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUniqueKey(tt.rows)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckUniqueKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var dupErr *DuplicateKeyError
			if !errors.As(err, &dupErr) {
				t.Fatalf("error %T is not *DuplicateKeyError", err)
			}
			if dupErr.Null != tt.wantNull {
				t.Errorf("Null = %v, want %v", dupErr.Null, tt.wantNull)
			}
		})
	}
}

func TestMergeOutputs(t *testing.T) {
	tests := []struct {
		name string
		a, b [][]any
		want [][]Pair
	}{
		{"both empty", nil, nil, [][]Pair{}},
		{"left only", [][]any{{0}}, nil, [][]Pair{{{0, nil}}}},
		{"disjoint", [][]any{{0}}, [][]any{{1}}, [][]Pair{{{0, nil}}, {{nil, 1}}}},
		{
			"matched",
			[][]any{{0, "a"}}, [][]any{{0, "b"}},
			[][]Pair{{{0, 0}, {"a", "b"}}},
		},
		{
			"left rows first",
			[][]any{{0, "a"}, {2, "c"}}, [][]any{{0, "b"}},
			[][]Pair{{{0, 0}, {"a", "b"}}, {{2, nil}, {"c", nil}}},
		},
		{
			"right only row is padded",
			[][]any{{0}}, [][]any{{1, "a"}},
			[][]Pair{{{0, nil}}, {{nil, 1}, {nil, "a"}}},
		},
		{
			"keys matched across int types",
			[][]any{{int64(5), "x"}}, [][]any{{5.0, "x"}},
			[][]Pair{{{int64(5), 5.0}, {"x", "x"}}},
		},
		{
			"order of b does not matter",
			[][]any{{1, "a"}, {2, "b"}}, [][]any{{3, "c"}, {2, "b"}, {1, "a"}},
			[][]Pair{{{1, 1}, {"a", "a"}}, {{2, 2}, {"b", "b"}}, {{nil, 3}, {nil, "c"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeOutputs(tt.a, tt.b); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeOutputs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestElementChecks(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		check func(a, b any) error
		a, b  any
		ok    bool
	}{
		{"null both", CheckElemNull, nil, nil, true},
		{"null neither", CheckElemNull, 1, 2, true},
		{"null mixed types", CheckElemNull, 1, "b", true},
		{"null left", CheckElemNull, nil, 1, false},
		{"null right", CheckElemNull, 1, nil, false},
		{"null vs string None", CheckElemNull, nil, "None", false},

		{"class ints", CheckElemClass, 1, -1, true},
		{"class int widths", CheckElemClass, int32(1), int64(1), true},
		{"class floats", CheckElemClass, 1.0, -1.0, true},
		{"class strings", CheckElemClass, "qwe", "asd", true},
		{"class maps", CheckElemClass, map[string]any{}, map[string]any{"a": 8}, true},
		{"class lists", CheckElemClass, []any{}, []any{1, 2, 3}, true},
		{"class null vs int", CheckElemClass, nil, 1, false},
		{"class int vs float", CheckElemClass, 1, 1.0, false},
		{"class float vs int", CheckElemClass, 1.0, 1, false},
		{"class float vs string", CheckElemClass, 1.0, "1", false},
		{"class int vs string", CheckElemClass, 1, "1", false},
		{"class list vs map", CheckElemClass, []any{}, map[string]any{}, false},
		{"class bytes vs string", CheckElemClass, []byte("a"), "a", false},

		{"value integral float", CheckElemValue, 1.0, 1, true},
		{"value ints", CheckElemValue, 1, int64(1), true},
		{"value strings", CheckElemValue, "1", "1", true},
		{"value nulls", CheckElemValue, nil, nil, true},
		{"value times", CheckElemValue, now, now.In(time.FixedZone("x", 3600)), true},
		{"value bytes", CheckElemValue, []byte{1, 2}, []byte{1, 2}, true},
		{"value null vs int", CheckElemValue, nil, 1, false},
		{"value fractional float", CheckElemValue, 1.2, 1, false},
		{"value ints differ", CheckElemValue, 3, 1, false},
		{"value float vs string", CheckElemValue, 1.0, "1.0", false},
		{"value int vs string", CheckElemValue, 1, "1", false},
		{"value times differ", CheckElemValue, now, now.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.a, tt.b)
			if (err == nil) != tt.ok {
				t.Fatalf("check(%#v, %#v) error = %v, want ok=%v", tt.a, tt.b, err, tt.ok)
			}
			if err != nil {
				var elemErr *ElemError
				if !errors.As(err, &elemErr) || !errors.Is(err, ErrVerification) {
					t.Errorf("error %T is not an *ElemError verification error", err)
				}
			}
		})
	}
}

func TestCompareColumnsCollectsAllColumns(t *testing.T) {
	merged := MergeOutputs(
		[][]any{{1, "a", 1.5, nil}, {2, "b", 2.5, 7}, {3, "c", 3.5, 8}},
		[][]any{{1, "a", 1.5, nil}, {2, "B", 2.5, nil}, {3, "C", 3, 8}},
	)
	err := CompareColumns(merged, []string{"id", "name", "price", "qty"})
	var diff *ColumnDiffError
	if !errors.As(err, &diff) {
		t.Fatalf("CompareColumns() error = %v, want *ColumnDiffError", err)
	}
	if !errors.Is(err, ErrVerification) {
		t.Error("error does not match ErrVerification")
	}
	if got, want := diff.Names(), []string{"name", "price", "qty"}; !reflect.DeepEqual(got, want) {
		t.Errorf("failing columns = %v, want %v", got, want)
	}
	name := diff.Columns[0]
	if name.Rows != 2 || name.Row != 1 || name.First.Check != "value" {
		t.Errorf("name failure = %+v", name)
	}
	if price := diff.Columns[1]; price.First.Check != "class" || price.Row != 2 {
		t.Errorf("price failure = %+v", price)
	}
	if qty := diff.Columns[2]; qty.First.Check != "null" {
		t.Errorf("qty failure = %+v", qty)
	}

	if err := CompareColumns(MergeOutputs([][]any{{1, "a"}}, [][]any{{1, "a"}}), nil); err != nil {
		t.Errorf("CompareColumns() on equal sheets = %v", err)
	}
}

func TestCompareColumnsUnnamed(t *testing.T) {
	err := CompareColumns([][]Pair{{{1, 1}, {"x", "y"}}}, []string{"id"})
	var diff *ColumnDiffError
	if !errors.As(err, &diff) {
		t.Fatalf("error = %v", err)
	}
	if got := diff.Names(); !reflect.DeepEqual(got, []string{"#1"}) {
		t.Errorf("Names() = %v, want [#1]", got)
	}
}

func TestDiff(t *testing.T) {
	merged := MergeOutputs(
		[][]any{{1, "a"}, {2, "b"}},
		[][]any{{2, "x"}, {1, "a"}, {3, "c"}},
	)
	want := []RowDiff{
		{Key: 2, Columns: []int{1}},
		{Key: 3, Columns: []int{0, 1}},
	}
	if got := Diff(merged); !reflect.DeepEqual(got, want) {
		t.Errorf("Diff() = %+v, want %+v", got, want)
	}
}

func TestCompareSheets(t *testing.T) {
	names := []string{"id", "name"}
	rows := [][]any{{1, "x"}, {2, "y"}}

	tests := []struct {
		name   string
		namesB []string
		b      [][]any
		target any
	}{
		{"equal", names, [][]any{{2, "y"}, {1, "x"}}, nil},
		{"names differ only in case", []string{"ID", "Name"}, rows, nil},
		{"different names", []string{"id", "label"}, rows, new(*HeaderError)},
		{"ragged", names, [][]any{{1, "x"}, {2}}, new(*ShapeError)},
		{"duplicate key", names, [][]any{{1, "x"}, {1, "y"}}, new(*DuplicateKeyError)},
		{"missing row", names, [][]any{{1, "x"}}, new(*ColumnDiffError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CompareSheets(names, rows, tt.namesB, tt.b)
			if tt.target == nil {
				if err != nil {
					t.Fatalf("CompareSheets() error = %v", err)
				}
				return
			}
			if !errors.As(err, tt.target) {
				t.Fatalf("CompareSheets() error = %v, want %T", err, tt.target)
			}
			if !errors.Is(err, ErrVerification) {
				t.Error("error does not match ErrVerification")
			}
		})
	}
}

func TestCompareTables(t *testing.T) {
	store := memengine.NewStore()
	store.CreateTable("src", []string{"id", "name"}, []any{1, "x"}, []any{2, "y"}, []any{3, "z"})
	store.CreateTable("dst", []string{"id", "name"}, []any{3, "z"}, []any{1, "x"}, []any{2, "y"})
	ep := func(table string) engine.Endpoint {
		return engine.Endpoint{Locator: engine.ByTable{Name: table}, BatchSize: 2}
	}
	ctx := context.Background()

	if err := CompareTables(ctx, store.Engine(), store.Engine(), ep("src"), ep("dst")); err != nil {
		t.Fatalf("CompareTables() error = %v", err)
	}

	store.Append("src", []any{4, "w"})
	err := CompareTables(ctx, store.Engine(), store.Engine(), ep("src"), ep("dst"))
	var diff *ColumnDiffError
	if !errors.As(err, &diff) {
		t.Fatalf("CompareTables() error = %v, want *ColumnDiffError", err)
	}
	if diff.Columns[0].Rows != 1 {
		t.Errorf("id failures = %d, want 1", diff.Columns[0].Rows)
	}

	store.CreateTable("empty", []string{"id", "name"})
	store.CreateTable("empty2", []string{"id", "name"})
	if err := CompareTables(ctx, store.Engine(), store.Engine(), ep("empty"), ep("empty2")); err != nil {
		t.Errorf("CompareTables() on empty tables = %v", err)
	}

	src := store.Engine()
	src.FailNext(memengine.OpBeginFull, errors.New("boom"))
	if err := CompareTables(ctx, src, store.Engine(), ep("src"), ep("dst")); err == nil || errors.Is(err, ErrVerification) {
		t.Errorf("CompareTables() with failing source = %v, want a non-verification error", err)
	}
}
