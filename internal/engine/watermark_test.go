package engine

import (
	"testing"
	"time"
)

func TestCompareValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"int64 vs int", int64(3), 3, 0},
		{"int vs float", 2, 2.5, -1},
		{"decimal string vs int", "10.50", int64(10), 1},
		{"bytes vs int", []byte("7"), int64(7), 0},
		{"uint64 vs int64", uint64(1 << 63), int64(1), 1},
		{"time vs time", ts, ts.Add(time.Second), -1},
		{"time vs string", ts, "2024-03-01 12:00:00", 0},
		{"strings", "abc", "abd", -1},
		{"numeric-looking strings order as text", "9", "10", 1},
		{"decimals order numerically", Decimal("9"), Decimal("10"), -1},
		{"decimal vs string", Decimal("10.0"), "10", 0},
		{"decimal vs float", Decimal("2.50"), 2.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareValues(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CompareValues() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CompareValues(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareValuesIncomparable(t *testing.T) {
	if _, err := CompareValues(true, 1); err == nil {
		t.Error("CompareValues(bool, int) succeeded, want error")
	}
}

func TestWatermarkOrdering(t *testing.T) {
	none := Watermark{}
	one := NewWatermark(int64(1))
	two := NewWatermark(2.0)

	if c, _ := none.Compare(none); c != 0 {
		t.Errorf("none vs none = %d, want 0", c)
	}
	if less, _ := none.Less(one); !less {
		t.Error("none should order before every valid watermark")
	}
	if less, _ := two.Less(one); less {
		t.Error("2 should not be less than 1")
	}
	if NewWatermark(nil).Valid {
		t.Error("NewWatermark(nil) should be invalid")
	}
	if got := none.String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
}

func TestNewWatermarkDereferencesTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	w := NewWatermark(&ts)
	if !w.Valid {
		t.Fatal("watermark should be valid")
	}
	if _, ok := w.Value.(time.Time); !ok {
		t.Errorf("Value = %T, want time.Time", w.Value)
	}
	var nilTime *time.Time
	if NewWatermark(nilTime).Valid {
		t.Error("nil *time.Time should give an invalid watermark")
	}
}

func TestRidValue(t *testing.T) {
	tests := []struct {
		name string
		typ  ColumnType
		v    any
		want any
	}{
		{"text stays string", TypeText, "9", "9"},
		{"decimal text", TypeDecimal, "9.5", Decimal("9.5")},
		{"decimal bytes", TypeDecimal, []byte("12"), Decimal("12")},
		{"untyped integer text", TypeInteger, "7", Decimal("7")},
		{"native integer", TypeInteger, int64(7), int64(7)},
		{"nil", TypeDecimal, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RidValue(tt.typ, tt.v); got != tt.want {
				t.Errorf("RidValue(%v, %v) = %v (%T), want %v (%T)", tt.typ, tt.v, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestTypedWatermarkArgAndString(t *testing.T) {
	w := NewTypedWatermark(TypeDecimal, "10.25")
	if got, ok := w.Arg().(string); !ok || got != "10.25" {
		t.Errorf("Arg() = %v (%T), want string 10.25", w.Arg(), w.Arg())
	}
	if got := w.String(); got != "10.25" {
		t.Errorf("String() = %q, want 10.25", got)
	}
	if less, err := NewTypedWatermark(TypeDecimal, "9").Less(w); err != nil || !less {
		t.Errorf("9 < 10.25 = %v, %v; want true", less, err)
	}
}
