package engine

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Watermark is the latest rid value seen in a table. The zero value means
// "no rows" and orders before every valid watermark.
type Watermark struct {
	Value any
	Valid bool
}

// Decimal is a numeric rid delivered as text by the driver. It orders
// numerically, while a plain string orders lexically.
type Decimal string

// NewWatermark wraps a scanned MAX(rid) value; nil yields an invalid watermark.
func NewWatermark(v any) Watermark {
	v = normalizeRid(v)
	if v == nil {
		return Watermark{}
	}
	return Watermark{Value: v, Valid: true}
}

// NewTypedWatermark is NewWatermark for a value read from a column of type t.
// Text from numeric columns becomes a Decimal.
func NewTypedWatermark(t ColumnType, v any) Watermark {
	return NewWatermark(RidValue(t, v))
}

// RidValue tags v with the ordering of its column type.
func RidValue(t ColumnType, v any) any {
	v = normalizeRid(v)
	if s, ok := v.(string); ok {
		switch t {
		case TypeInteger, TypeFloat, TypeDecimal:
			return Decimal(s)
		}
	}
	return v
}

// Arg returns the watermark value in a form every driver accepts as a
// query argument.
func (w Watermark) Arg() any {
	if d, ok := w.Value.(Decimal); ok {
		return string(d)
	}
	return w.Value
}

func (w Watermark) String() string {
	if !w.Valid {
		return "none"
	}
	switch v := w.Value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case Decimal:
		return string(v)
	}
	return fmt.Sprint(w.Value)
}

// Compare orders two watermarks. Invalid sorts first; two invalid are equal.
func (w Watermark) Compare(o Watermark) (int, error) {
	switch {
	case !w.Valid && !o.Valid:
		return 0, nil
	case !w.Valid:
		return -1, nil
	case !o.Valid:
		return 1, nil
	}
	return CompareValues(w.Value, o.Value)
}

// Less reports w < o.
func (w Watermark) Less(o Watermark) (bool, error) {
	c, err := w.Compare(o)
	return c < 0, err
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CompareValues orders two rid values drawn from possibly different drivers.
// Two plain strings compare lexically, as a text column orders them. Numbers
// compare numerically whatever their Go type, and a string compared with a
// number or a Decimal is parsed as one. Likewise a string compared with a
// time is parsed as a time.
func CompareValues(a, b any) (int, error) {
	a, b = normalizeRid(a), normalizeRid(b)

	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}

	if ra, ok := toRat(a); ok {
		if rb, ok := toRat(b); ok {
			return ra.Cmp(rb), nil
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), nil
		}
	}
	return 0, fmt.Errorf("cannot compare rid values %v (%T) and %v (%T)", a, a, b, b)
}

// normalizeRid converts driver-specific representations into comparable ones.
func normalizeRid(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func toRat(v any) (*big.Rat, bool) {
	switch x := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(x)), true
	case int8:
		return new(big.Rat).SetInt64(int64(x)), true
	case int16:
		return new(big.Rat).SetInt64(int64(x)), true
	case int32:
		return new(big.Rat).SetInt64(int64(x)), true
	case int64:
		return new(big.Rat).SetInt64(x), true
	case uint:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint64:
		return new(big.Rat).SetUint64(x), true
	case float32:
		return floatRat(float64(x))
	case float64:
		return floatRat(x)
	case Decimal:
		return parseRat(string(x))
	case string:
		return parseRat(x)
	}
	return nil, false
}

func parseRat(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

func floatRat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
