package docdb

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of a Value. The set is closed; the codec
// refuses kinds outside it at registration time.
type Kind uint8

const (
	KindNull Kind = iota
	KindGuid
	KindDateTime
	KindNumber
	KindBool
	KindText
	KindArray
	KindObject

	kindCount
)

var kindNames = [kindCount]string{"Null", "Guid", "DateTime", "Number", "Boolean", "Text", "Array", "Object"}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a tagged dynamically-typed document value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	g    uuid.UUID
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

func Null() Value                     { return Value{} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Number(n float64) Value          { return Value{kind: KindNumber, n: n} }
func Text(s string) Value             { return Value{kind: KindText, s: s} }
func Guid(g uuid.UUID) Value          { return Value{kind: KindGuid, g: g} }
func Array(el []Value) Value          { return Value{kind: KindArray, arr: el} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// DateTime truncates to millisecond precision in UTC so that values
// survive the codec and timestamp comparisons byte-exactly.
func DateTime(t time.Time) Value {
	return Value{kind: KindDateTime, t: t.UTC().Truncate(time.Millisecond)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) BoolValue() bool               { v.check(KindBool); return v.b }
func (v Value) NumberValue() float64          { v.check(KindNumber); return v.n }
func (v Value) TextValue() string             { v.check(KindText); return v.s }
func (v Value) GuidValue() uuid.UUID          { v.check(KindGuid); return v.g }
func (v Value) TimeValue() time.Time          { v.check(KindDateTime); return v.t }
func (v Value) ArrayValue() []Value           { v.check(KindArray); return v.arr }
func (v Value) ObjectValue() map[string]Value { v.check(KindObject); return v.obj }

func (v Value) check(k Kind) {
	if v.kind != k {
		panic(fmt.Errorf("docdb: %v value accessed as %v", v.kind, k))
	}
}

// ElementKind returns the kind of the first non-null array element,
// or KindNull for an empty or all-null array.
func (v Value) ElementKind() Kind {
	v.check(KindArray)
	for _, el := range v.arr {
		if el.kind != KindNull {
			return el.kind
		}
	}
	return KindNull
}

// Equal performs deep equality over tagged values.
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
		return v.n == o.n
	case KindText:
		return v.s == o.s
	case KindGuid:
		return v.g == o.g
	case KindDateTime:
		return v.t.Equal(o.t)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, ve := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !ve.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone deep-copies arrays and objects; scalars are value types already.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		el := make([]Value, len(v.arr))
		for i, e := range v.arr {
			el[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: el}
	case KindObject:
		m := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.Clone()
		}
		return Value{kind: KindObject, obj: m}
	default:
		return v
	}
}

// String renders a scalar value the way it is indexed and displayed.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			return strconv.FormatInt(int64(v.n), 10)
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindText:
		return v.s
	case KindGuid:
		return v.g.String()
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v.obj[k].String())
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return ""
}

// detectText promotes UUID-looking and date-time-looking strings.
// Detection is structural (length and separator positions first), so
// ordinary text never pays the parse cost.
func detectText(s string) Value {
	if looksLikeGuid(s) {
		if g, err := uuid.Parse(s); err == nil {
			return Guid(g)
		}
	}
	if looksLikeDateTime(s) {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return DateTime(t)
		}
	}
	return Text(s)
}

func looksLikeGuid(s string) bool {
	return len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}

func looksLikeDateTime(s string) bool {
	// Minimal RFC 3339 shape: "2006-01-02T15:04:05..." with a timezone tail.
	if len(s) < 20 {
		return false
	}
	return s[4] == '-' && s[7] == '-' && s[10] == 'T' && s[13] == ':' && s[16] == ':'
}

// FromAny converts a decoded-JSON value (string/bool/float64/json.Number/
// map[string]any/[]any/nil) into a tagged Value, promoting UUID and
// date-time strings. Array elements must share one kind.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null(), valErrf("invalid number %q", x.String())
		}
		return Number(f), nil
	case string:
		return detectText(x), nil
	case uuid.UUID:
		return Guid(x), nil
	case time.Time:
		return DateTime(x), nil
	case Value:
		return x, nil
	case []any:
		el := make([]Value, 0, len(x))
		elKind := KindNull
		for _, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return Null(), err
			}
			if v.kind != KindNull {
				if elKind == KindNull {
					elKind = v.kind
				} else if v.kind != elKind {
					return Null(), valErrf("heterogeneous array: %v element in %v array", v.kind, elKind)
				}
			}
			el = append(el, v)
		}
		return Array(el), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return Null(), err
			}
			m[k] = v
		}
		return Object(m), nil
	default:
		return Null(), valErrf("unsupported value of type %T", raw)
	}
}

// ToAny converts a tagged Value back into plain JSON-ready Go values.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindText:
		return v.s
	case KindGuid:
		return v.g.String()
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.ToAny()
		}
		return out
	}
	return nil
}
