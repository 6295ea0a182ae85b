package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a dynamically typed field value. The zero Value is null.
// Numbers remember whether they were produced from an integer literal so
// codecs can write them back without a fractional part.
type Value struct {
	kind  Kind
	b     bool
	n     float64
	i     int64
	isInt bool
	s     string
	list  []Value
	m     *Map
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindNumber, n: float64(i), i: i, isInt: true} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Float builds a number. Integral values inside the int64 range are kept
// as integers.
func Float(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Value{kind: KindNumber, n: f, i: int64(f), isInt: true}
	}
	return Value{kind: KindNumber, n: f}
}

// RawFloat builds a number that is always written with a fractional part,
// even when it happens to be integral.
func RawFloat(f float64) Value { return Value{kind: KindNumber, n: f} }

func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsFloat() (float64, bool) { return v.n, v.kind == KindNumber }

// AsInt reports the integer form of a number that was built as one.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindNumber && v.isInt }

func (v Value) IsInt() bool { return v.kind == KindNumber && v.isInt }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// Text renders the value the way it reads inside a string expression:
// strings are unquoted, containers use compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.numberText()
	case KindString:
		return v.s
	default:
		return Compact(v)
	}
}

func (v Value) String() string { return v.Text() }

func (v Value) numberText() string {
	if v.isInt {
		return strconv.FormatInt(v.i, 10)
	}
	return strconv.FormatFloat(v.n, 'g', -1, 64)
}

// NumberText returns the canonical literal of a number value.
func (v Value) NumberText() string { return v.numberText() }

// Equal compares by content. Numbers compare by numeric value and map
// field order is not significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.isInt && o.isInt {
			return v.i == o.i
		}
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// Interface converts the value into plain Go types: nil, bool, int64,
// float64, string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if v.isInt {
			return v.i
		}
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(k string, e Value) bool {
			out[k] = e.Interface()
			return true
		})
		return out
	}
	return nil
}

// FromInterface converts plain Go values into a Value. Keys of Go maps are
// sorted since their order is undefined.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return RawFloat(float64(t)), nil
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return List(out...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := FromInterface(t[k])
			if err != nil {
				return Value{}, err
			}
			m.Set(k, v)
		}
		return MapOf(m), nil
	case *Map:
		return MapOf(t), nil
	case fmt.Stringer:
		return String(t.String()), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// ParseNumber parses a numeric literal, keeping integers exact.
func ParseNumber(s string) (Value, bool) {
	if s == "" {
		return Value{}, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return Value{}, false
	}
	return RawFloat(f), true
}

// Compact renders the value as compact JSON text.
func Compact(v Value) string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(b)
}

// MarshalJSON writes numbers the way they were read: integers without a
// fraction, integral floats with one. NaN and infinities become null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindNumber:
		switch {
		case v.isInt:
			return strconv.AppendInt(nil, v.i, 10), nil
		case math.IsNaN(v.n) || math.IsInf(v.n, 0):
			return []byte("null"), nil
		case v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e21:
			return strconv.AppendFloat(nil, v.n, 'f', 1, 64), nil
		}
		return []byte(v.numberText()), nil
	case KindString:
		return marshal(v.s)
	case KindList:
		if len(v.list) == 0 {
			return []byte("[]"), nil
		}
		return marshal(v.list)
	case KindMap:
		return v.m.MarshalJSON()
	}
	return []byte("null"), nil
}

// MarshalJSON writes the entries in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	buf.WriteByte('{')
	m.Range(func(k string, v Value) bool {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		var kb, vb []byte
		if kb, err = marshal(k); err != nil {
			return false
		}
		if vb, err = v.MarshalJSON(); err != nil {
			return false
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshal encodes x leaving <, > and & as they are.
func marshal(x any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
