package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/interpreter"
)

// expressionCostLimit bounds the work a single expression may do.
const expressionCostLimit = 1000000

// ExpressionEvaluator backs the custom_expression rule type. The rule value
// is a CEL expression over the context, exposed as the map variable app, for
// example `app.fico_score >= 700.0 && app.state != "CA"`. Facts the
// application did not supply are CEL unknowns, so an expression that needs
// them evaluates to undetermined rather than false.
type ExpressionEvaluator struct {
	env    *cel.Env
	envErr error

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewExpressionEvaluator() *ExpressionEvaluator {
	env, err := cel.NewEnv(
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	return &ExpressionEvaluator{
		env:      env,
		envErr:   err,
		programs: make(map[string]cel.Program),
	}
}

func (e *ExpressionEvaluator) Info() RuleTypeInfo {
	return RuleTypeInfo{Label: "CEL expression over app.<fact>"}
}

// Compile checks an expression and caches the resulting program by source
// text. Programs are immutable, so the cache never changes an outcome.
func (e *ExpressionEvaluator) Compile(expression string) (cel.Program, error) {
	if e.envErr != nil {
		return nil, &ExpressionError{Expression: expression, Err: e.envErr}
	}

	e.mu.RLock()
	prog, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &ExpressionError{Expression: expression, Err: issues.Err()}
	}

	prog, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptPartialEval),
		cel.CostLimit(expressionCostLimit),
	)
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Err: err}
	}

	e.mu.Lock()
	e.programs[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func (e *ExpressionEvaluator) Evaluate(ctx *EvaluationContext, rule *PolicyRule) (EvaluationResult, error) {
	res := EvaluationResult{
		RuleType:      rule.RuleType,
		RuleID:        rule.ID,
		RequiredValue: rule.Value,
		IsRequired:    rule.IsRequired,
		Weight:        rule.Weight,
		Verdict:       VerdictError,
	}

	expression, ok := rule.Value.Str()
	if !ok || strings.TrimSpace(expression) == "" {
		return res, &ExpressionError{
			Expression: rule.Value.String(),
			Err:        fmt.Errorf("rule value is %s, want an expression string", rule.Value.Kind()),
		}
	}

	prog, err := e.Compile(expression)
	if err != nil {
		return res, err
	}

	app := make(map[string]any)
	var unknowns []*interpreter.AttributePattern
	for _, f := range AllFacts() {
		v := ctx.Get(f)
		if v.IsUnknown() {
			unknowns = append(unknowns, cel.AttributePattern("app").QualString(string(f)))
			continue
		}
		app[string(f)] = v.Native()
	}

	vars, err := cel.PartialVars(map[string]any{"app": app}, unknowns...)
	if err != nil {
		return res, &ExpressionError{Expression: expression, Err: err}
	}

	out, _, err := prog.Eval(vars)
	if err != nil {
		return res, &ExpressionError{Expression: expression, Err: err}
	}

	if types.IsUnknown(out) {
		res.Verdict = VerdictUndetermined
		res.Reason = "Expression depends on facts not provided: " + expression
		return res, nil
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return res, &ExpressionError{Expression: expression, Err: fmt.Errorf("result is %s, want bool", out.Type())}
	}

	res.ActualValue = Bool(matched)
	res.Verdict = verdictOf(matched)
	res.Passed = matched
	switch {
	case matched:
		res.Reason = "Expression satisfied: " + expression
	case strings.TrimSpace(rule.RejectionMessage) != "":
		res.Reason = rule.RejectionMessage
	default:
		res.Reason = "Expression not satisfied: " + expression
	}
	return res, nil
}
