package rules

import (
	"errors"
	"testing"
)

// TestCompare verifies every operator over known operands
func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		actual   Value
		expected Value
		want     Verdict
	}{
		{"gte equal", OpGTE, Int(680), Int(680), VerdictPass},
		{"gte below", OpGTE, Int(650), Int(680), VerdictFail},
		{"gte decimal", OpGTE, Float(2.5), Int(2), VerdictPass},
		{"lte above", OpLTE, Int(61), Int(60), VerdictFail},
		{"gt equal", OpGT, Int(5), Int(5), VerdictFail},
		{"lt below", OpLT, Int(4), Int(5), VerdictPass},
		{"eq text ignores case", OpEQ, Text("tx"), Text("TX"), VerdictPass},
		{"eq bool", OpEQ, Bool(false), Bool(true), VerdictFail},
		{"neq number", OpNEQ, Int(1), Int(2), VerdictPass},
		{"in", OpIn, Text("TX"), Texts("TX", "OK"), VerdictPass},
		{"in missing", OpIn, Text("CA"), Texts("TX", "OK"), VerdictFail},
		{"not_in member", OpNotIn, Text("CA"), Texts("CA", "NV", "ND", "VT"), VerdictFail},
		{"not_in non member", OpNotIn, Text("TX"), Texts("CA", "NV", "ND", "VT"), VerdictPass},
		{"in numbers", OpIn, Int(2), List(Int(1), Int(2)), VerdictPass},
		{"between inside", OpBetween, Int(36), List(Int(24), Int(60)), VerdictPass},
		{"between bound", OpBetween, Int(60), List(Int(24), Int(60)), VerdictPass},
		{"between outside", OpBetween, Int(72), List(Int(24), Int(60)), VerdictFail},
		{"exists known", OpExists, Int(1), Unknown(), VerdictPass},
		{"exists unknown", OpExists, Unknown(), Unknown(), VerdictFail},
		{"not_exists unknown", OpNotExists, Unknown(), Unknown(), VerdictPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.op, tt.actual, tt.expected)
			if err != nil {
				t.Fatalf("Compare returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%s, %s, %s) = %s, want %s", tt.op, tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

// TestCompareUnknownActual verifies a missing fact is undetermined, never fail
func TestCompareUnknownActual(t *testing.T) {
	for _, op := range []Operator{OpGTE, OpLTE, OpEQ, OpIn, OpNotIn, OpBetween} {
		expected := Int(1)
		switch op {
		case OpIn, OpNotIn:
			expected = Texts("CA")
		case OpBetween:
			expected = List(Int(1), Int(2))
		}
		got, err := Compare(op, Unknown(), expected)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", op, err)
		}
		if got != VerdictUndetermined {
			t.Errorf("%s: expected undetermined, got %s", op, got)
		}
	}
}

// TestCompareMismatch verifies operand shape mismatches are comparator errors
func TestCompareMismatch(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		actual   Value
		expected Value
	}{
		{"text vs number", OpGTE, Text("abc"), Int(1)},
		{"gte list", OpGTE, Int(1), Texts("a")},
		{"in scalar", OpIn, Text("TX"), Text("TX")},
		{"eq kinds differ", OpEQ, Int(1), Text("1")},
		{"between one bound", OpBetween, Int(1), List(Int(1))},
		{"missing rule value", OpGTE, Int(1), Unknown()},
		{"unsupported operator", Operator("contains"), Text("a"), Text("a")},
		{"invalid rule value", OpEQ, Int(1), ValueOf(map[string]any{"a": 1})},
		{"missing fact with broken rule", OpGTE, Unknown(), Text("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.op, tt.actual, tt.expected)
			if err == nil {
				t.Fatalf("expected error, got verdict %s", got)
			}
			if got != VerdictError {
				t.Errorf("expected error verdict, got %s", got)
			}
			if !errors.Is(err, ErrComparator) {
				t.Errorf("expected ErrComparator, got %v", err)
			}
			var cmpErr *ComparatorError
			if !errors.As(err, &cmpErr) || cmpErr.Operator != tt.op {
				t.Errorf("expected *ComparatorError for %s, got %T", tt.op, err)
			}
		})
	}
}

// TestParseOperator verifies names and symbols are accepted
func TestParseOperator(t *testing.T) {
	cases := map[string]Operator{
		"gte":    OpGTE,
		" GTE ":  OpGTE,
		">=":     OpGTE,
		"not_in": OpNotIn,
		"!=":     OpNEQ,
	}
	for in, want := range cases {
		got, err := ParseOperator(in)
		if err != nil {
			t.Errorf("ParseOperator(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseOperator(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseOperator("approximately"); err == nil {
		t.Error("expected error for unsupported operator")
	}
}
