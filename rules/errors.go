package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrContext marks application data too incomplete to evaluate.
	ErrContext = errors.New("insufficient application data")

	// ErrUnknownRuleType marks a rule whose type has no registered evaluator.
	ErrUnknownRuleType = errors.New("unknown rule type")

	// ErrComparator marks operands the comparator cannot relate.
	ErrComparator = errors.New("comparator error")

	// ErrExpression marks a custom expression that failed to compile or run.
	ErrExpression = errors.New("expression error")
)

// ContextError is returned by BuildContext when an application lacks the
// fields every rule depends on. It is the only error Underwrite surfaces.
type ContextError struct {
	ApplicationID string
	Missing       []string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("application %s: %s: missing %s",
		e.ApplicationID, ErrContext, strings.Join(e.Missing, " and "))
}

func (e *ContextError) Unwrap() error { return ErrContext }

// UnknownRuleTypeError is returned by Registry.Lookup.
type UnknownRuleTypeError struct {
	RuleType string
}

func (e *UnknownRuleTypeError) Error() string {
	return fmt.Sprintf("%s %q", ErrUnknownRuleType, e.RuleType)
}

func (e *UnknownRuleTypeError) Unwrap() error { return ErrUnknownRuleType }

// ComparatorError describes operands that do not fit the operator.
type ComparatorError struct {
	Operator Operator
	Actual   Value
	Expected Value
	Reason   string
}

func (e *ComparatorError) Error() string {
	return fmt.Sprintf("%s: operator %q: %s", ErrComparator, e.Operator, e.Reason)
}

func (e *ComparatorError) Unwrap() error { return ErrComparator }

// ExpressionError wraps a CEL compile or evaluation failure.
type ExpressionError struct {
	Expression string
	Err        error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrExpression, e.Expression, e.Err)
}

func (e *ExpressionError) Unwrap() []error { return []error{ErrExpression, e.Err} }
