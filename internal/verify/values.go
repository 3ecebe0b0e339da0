package verify

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Class is the comparison class of a value.
type Class int

const (
	ClassNull Class = iota
	ClassInt
	ClassFloat
	ClassString
	ClassBool
	ClassTime
	ClassBytes
	ClassList
	ClassMap
	ClassOther
)

var classNames = [...]string{"null", "int", "float", "string", "bool", "time", "bytes", "list", "map", "other"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ClassOf returns the class of v. Integer kinds of any width are ClassInt.
func ClassOf(v any) Class {
	switch v.(type) {
	case nil:
		return ClassNull
	case string:
		return ClassString
	case bool:
		return ClassBool
	case time.Time, *time.Time:
		return ClassTime
	case []byte:
		return ClassBytes
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ClassInt
	case reflect.Float32, reflect.Float64:
		return ClassFloat
	case reflect.Slice, reflect.Array:
		return ClassList
	case reflect.Map:
		return ClassMap
	}
	return ClassOther
}

// CheckElemNull fails unless both values are null or neither is.
func CheckElemNull(a, b any) error {
	if (a == nil) != (b == nil) {
		return &ElemError{Check: "null", A: a, B: b, Msg: "only one side is null"}
	}
	return nil
}

// CheckElemClass fails unless both values have the same class. An int and
// a float are different classes.
func CheckElemClass(a, b any) error {
	if ca, cb := ClassOf(a), ClassOf(b); ca != cb {
		return &ElemError{Check: "class", A: a, B: b, Msg: fmt.Sprintf("%s vs %s", ca, cb)}
	}
	return nil
}

// CheckElemValue fails unless the values are equal. An int equals a float
// holding the same integral value.
func CheckElemValue(a, b any) error {
	if !equalValues(a, b) {
		return &ElemError{Check: "value", A: a, B: b, Msg: "values differ"}
	}
	return nil
}

func equalValues(a, b any) bool {
	ca, cb := ClassOf(a), ClassOf(b)
	switch {
	case ca == ClassNull || cb == ClassNull:
		return ca == cb
	case isNumber(ca) && isNumber(cb):
		return equalNumbers(a, ca, b, cb)
	case ca != cb:
		return false
	}
	switch ca {
	case ClassTime:
		return asTime(a).Equal(asTime(b))
	case ClassBytes:
		return bytes.Equal(a.([]byte), b.([]byte))
	case ClassString, ClassBool:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(c Class) bool { return c == ClassInt || c == ClassFloat }

func equalNumbers(a any, ca Class, b any, cb Class) bool {
	switch {
	case ca == ClassInt && cb == ClassInt:
		ia, oka := asInt(a)
		ib, okb := asInt(b)
		if oka && okb {
			return ia == ib
		}
		return fmt.Sprint(a) == fmt.Sprint(b)
	case ca == ClassFloat && cb == ClassFloat:
		return asFloat(a) == asFloat(b)
	case ca == ClassInt:
		return intEqualsFloat(a, asFloat(b))
	default:
		return intEqualsFloat(b, asFloat(a))
	}
}

func intEqualsFloat(i any, f float64) bool {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return false
	}
	n, ok := asInt(i)
	if !ok {
		return false
	}
	return float64(n) == f && int64(f) == n
}

// asInt returns v as int64; it fails for uint64 values above MaxInt64.
func asInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func asFloat(v any) float64 {
	return reflect.ValueOf(v).Float()
}

func asTime(v any) time.Time {
	if p, ok := v.(*time.Time); ok {
		if p == nil {
			return time.Time{}
		}
		return *p
	}
	return v.(time.Time)
}

// key is a first-column value normalised for joining. Integral numbers
// collapse onto one key whatever their Go type; strings never collide with
// numbers.
type key struct {
	class Class
	v     any
}

func keyOf(v any) key {
	c := ClassOf(v)
	switch c {
	case ClassInt:
		if n, ok := asInt(v); ok {
			return key{ClassInt, n}
		}
		return key{ClassInt, fmt.Sprint(v)}
	case ClassFloat:
		f := asFloat(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return key{ClassInt, int64(f)}
		}
		return key{ClassFloat, f}
	case ClassTime:
		return key{ClassTime, asTime(v).UnixNano()}
	case ClassBytes:
		return key{ClassBytes, string(v.([]byte))}
	case ClassString, ClassBool, ClassNull:
		return key{c, v}
	}
	return key{c, fmt.Sprintf("%#v", v)}
}
