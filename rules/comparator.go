package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator names a comparison between a context fact and a rule value.
type Operator string

const (
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
	OpGT        Operator = "gt"
	OpLT        Operator = "lt"
	OpEQ        Operator = "eq"
	OpNEQ       Operator = "neq"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpBetween   Operator = "between"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
)

var operatorSymbols = map[Operator]string{
	OpGTE:       ">=",
	OpLTE:       "<=",
	OpGT:        ">",
	OpLT:        "<",
	OpEQ:        "==",
	OpNEQ:       "!=",
	OpIn:        "in",
	OpNotIn:     "not in",
	OpBetween:   "between",
	OpExists:    "exists",
	OpNotExists: "not exists",
}

// Operators lists every supported operator in a stable order.
func Operators() []Operator {
	return []Operator{OpGTE, OpLTE, OpGT, OpLT, OpEQ, OpNEQ, OpIn, OpNotIn, OpBetween, OpExists, OpNotExists}
}

func (op Operator) Valid() bool {
	_, ok := operatorSymbols[op]
	return ok
}

func (op Operator) Symbol() string {
	if s, ok := operatorSymbols[op]; ok {
		return s
	}
	return string(op)
}

// ParseOperator accepts operator names case-insensitively as well as their
// symbolic forms.
func ParseOperator(s string) (Operator, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if op := Operator(s); op.Valid() {
		return op, nil
	}
	for op, sym := range operatorSymbols {
		if sym == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unsupported operator %q", s)
}

// Verdict is the outcome of one comparison or one rule. Undetermined means
// the fact was not known; Error means the rule could not be applied at all.
type Verdict uint8

const (
	VerdictUndetermined Verdict = iota
	VerdictPass
	VerdictFail
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	case VerdictError:
		return "error"
	default:
		return "undetermined"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "pass":
		*v = VerdictPass
	case "fail":
		*v = VerdictFail
	case "error":
		*v = VerdictError
	case "undetermined":
		*v = VerdictUndetermined
	default:
		return fmt.Errorf("unknown verdict %q", s)
	}
	return nil
}

func verdictOf(ok bool) Verdict {
	if ok {
		return VerdictPass
	}
	return VerdictFail
}

// Compare applies op to actual and expected. The expected operand is checked
// first so a misconfigured rule reports an error even when the fact is
// missing. An unknown actual yields VerdictUndetermined, except for the
// existence operators which decide on it.
func Compare(op Operator, actual, expected Value) (Verdict, error) {
	if err := checkExpected(op, actual, expected); err != nil {
		return VerdictError, err
	}

	switch op {
	case OpExists:
		return verdictOf(!actual.IsUnknown()), nil
	case OpNotExists:
		return verdictOf(actual.IsUnknown()), nil
	}

	if actual.IsUnknown() {
		return VerdictUndetermined, nil
	}
	if !actual.IsValid() {
		return VerdictError, mismatch(op, actual, expected, "actual value is not representable")
	}

	switch op {
	case OpGTE, OpLTE, OpGT, OpLT:
		a, ok := actual.Decimal()
		if !ok {
			return VerdictError, mismatch(op, actual, expected, "actual value is "+actual.Kind().String()+", want number")
		}
		e, _ := expected.Decimal()
		c := a.Cmp(e)
		switch op {
		case OpGTE:
			return verdictOf(c >= 0), nil
		case OpLTE:
			return verdictOf(c <= 0), nil
		case OpGT:
			return verdictOf(c > 0), nil
		default:
			return verdictOf(c < 0), nil
		}

	case OpBetween:
		a, ok := actual.Decimal()
		if !ok {
			return VerdictError, mismatch(op, actual, expected, "actual value is "+actual.Kind().String()+", want number")
		}
		lo, _ := expected.list[0].Decimal()
		hi, _ := expected.list[1].Decimal()
		return verdictOf(a.Cmp(lo) >= 0 && a.Cmp(hi) <= 0), nil

	case OpEQ, OpNEQ:
		if actual.Kind() != expected.Kind() {
			return VerdictError, mismatch(op, actual, expected,
				fmt.Sprintf("cannot compare %s with %s", actual.Kind(), expected.Kind()))
		}
		return verdictOf(scalarEqual(actual, expected) == (op == OpEQ)), nil

	case OpIn, OpNotIn:
		if !actual.scalar() {
			return VerdictError, mismatch(op, actual, expected, "actual value is "+actual.Kind().String()+", want scalar")
		}
		found := false
		for _, item := range expected.list {
			if scalarEqual(actual, item) {
				found = true
				break
			}
		}
		return verdictOf(found == (op == OpIn)), nil
	}

	return VerdictError, mismatch(op, actual, expected, "unsupported operator")
}

func checkExpected(op Operator, actual, expected Value) error {
	if !op.Valid() {
		return mismatch(op, actual, expected, "unsupported operator")
	}
	if op == OpExists || op == OpNotExists {
		return nil
	}
	switch expected.Kind() {
	case KindUnknown:
		return mismatch(op, actual, expected, "rule has no comparison value")
	case KindInvalid:
		return mismatch(op, actual, expected, "rule value "+expected.raw+" is not a number, text, boolean or list")
	}

	switch op {
	case OpGTE, OpLTE, OpGT, OpLT:
		if expected.Kind() != KindNumber {
			return mismatch(op, actual, expected, "rule value is "+expected.Kind().String()+", want number")
		}
	case OpEQ, OpNEQ:
		if !expected.scalar() {
			return mismatch(op, actual, expected, "rule value is "+expected.Kind().String()+", want scalar")
		}
	case OpIn, OpNotIn:
		if expected.Kind() != KindList {
			return mismatch(op, actual, expected, "rule value is "+expected.Kind().String()+", want list")
		}
	case OpBetween:
		if expected.Kind() != KindList || len(expected.list) != 2 ||
			expected.list[0].Kind() != KindNumber || expected.list[1].Kind() != KindNumber {
			return mismatch(op, actual, expected, "rule value must be a [min, max] pair of numbers")
		}
	}
	return nil
}

// scalarEqual compares same-kind scalars; text ignores case and surrounding
// space so "tx" matches "TX".
func scalarEqual(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Kind() == KindText {
		return strings.EqualFold(strings.TrimSpace(a.text), strings.TrimSpace(b.text))
	}
	return a.Equal(b)
}

func mismatch(op Operator, actual, expected Value, reason string) *ComparatorError {
	return &ComparatorError{Operator: op, Actual: actual, Expected: expected, Reason: reason}
}
