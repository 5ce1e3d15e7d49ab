package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNumber
	KindText
	KindBool
	KindList
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "boolean"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is the operand type shared by rule configuration and context facts.
// It is a closed sum: Number, Text, Bool or a List of scalars. The zero Value
// is unknown, which is how the context reports a field nobody supplied.
//
// KindInvalid holds configuration that decoded from storage but has no
// representation here (nested objects, lists of lists). It is never coerced;
// the comparator rejects it.
type Value struct {
	kind Kind
	num  decimal.Decimal
	text string
	flag bool
	list []Value
	raw  string
}

func Unknown() Value { return Value{} }

func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

func Int(n int) Value { return Number(decimal.NewFromInt(int64(n))) }

func Float(f float64) Value { return Number(decimal.NewFromFloat(f)) }

func Text(s string) Value { return Value{kind: KindText, text: s} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// List builds a list Value. Items that are not scalars make the whole list
// invalid.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	for i, item := range items {
		if !item.scalar() {
			return invalid(fmt.Sprintf("list item %d is %s", i, item.kind))
		}
		out[i] = item
	}
	return Value{kind: KindList, list: out}
}

// Texts is shorthand for a list of text values.
func Texts(items ...string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = Text(s)
	}
	return List(vals...)
}

func invalid(raw string) Value { return Value{kind: KindInvalid, raw: raw} }

// Optional helpers used by the context builder: nil means unknown.

func OptInt(p *int) Value {
	if p == nil {
		return Unknown()
	}
	return Int(*p)
}

func OptDecimal(p *decimal.Decimal) Value {
	if p == nil {
		return Unknown()
	}
	return Number(*p)
}

func OptBool(p *bool) Value {
	if p == nil {
		return Unknown()
	}
	return Bool(*p)
}

func OptText(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown()
	}
	return Text(s)
}

// ValueOf converts a decoded JSON/YAML tree into a Value. Maps of the form
// {"value": x} are unwrapped, which is how rule values are stored.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Unknown()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return Text(t)
	case int:
		return Int(t)
	case int32:
		return Int(int(t))
	case int64:
		return Number(decimal.NewFromInt(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case decimal.Decimal:
		return Number(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return invalid(t.String())
		}
		return Number(d)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = ValueOf(item)
		}
		return List(items...)
	case []string:
		return Texts(t...)
	case map[string]any:
		if inner, ok := t["value"]; ok && len(t) == 1 {
			return ValueOf(inner)
		}
		return invalid(fmt.Sprintf("%v", t))
	default:
		return invalid(fmt.Sprintf("%v", t))
	}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsUnknown() bool { return v.kind == KindUnknown }
func (v Value) IsValid() bool   { return v.kind != KindInvalid }

func (v Value) scalar() bool {
	return v.kind == KindNumber || v.kind == KindText || v.kind == KindBool
}

func (v Value) Decimal() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }
func (v Value) Str() (string, bool)              { return v.text, v.kind == KindText }
func (v Value) Flag() (bool, bool)               { return v.flag, v.kind == KindBool }

func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out, true
}

// Equal reports structural equality. Numbers compare by value, so 680 equals
// 680.0.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Equal(o.num)
	case KindText:
		return v.text == o.text
	case KindBool:
		return v.flag == o.flag
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
	case KindInvalid:
		return v.raw == o.raw
	default:
		return true
	}
}

// Native returns the plain Go form used by expression rules: float64,
// string, bool, []any, or nil when unknown or invalid.
func (v Value) Native() any {
	switch v.kind {
	case KindNumber:
		return v.num.InexactFloat64()
	case KindText:
		return v.text
	case KindBool:
		return v.flag
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindUnknown:
		return "unknown"
	case KindNumber:
		return v.num.String()
	case KindText:
		return v.text
	case KindBool:
		if v.flag {
			return "true"
		}
		return "false"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return v.raw
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindText:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.flag)
	case KindList:
		return json.Marshal(v.list)
	case KindInvalid:
		if json.Valid([]byte(v.raw)) {
			return []byte(v.raw), nil
		}
		return json.Marshal(v.raw)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any well-formed JSON. Shapes with no Value
// representation decode to an invalid Value carrying the raw text.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	parsed := ValueOf(tree)
	if parsed.kind == KindInvalid {
		parsed.raw = string(bytes.TrimSpace(data))
	}
	*v = parsed
	return nil
}
