package rules

import (
	"sort"
	"strings"
)

// Evaluator applies one kind of rule to a context. Implementations must not
// keep per-call state; a registry shares one instance across goroutines.
type Evaluator interface {
	Evaluate(ctx *EvaluationContext, rule *PolicyRule) (EvaluationResult, error)
}

// RuleTypeInfo describes a registered rule type for clients building policy.
type RuleTypeInfo struct {
	RuleType        string   `json:"rule_type"`
	Label           string   `json:"label"`
	Fact            Fact     `json:"fact,omitempty"`
	DefaultOperator Operator `json:"default_operator,omitempty"`
}

type describer interface {
	Info() RuleTypeInfo
}

// Registry maps rule types to evaluators. It is never mutated after
// construction; With returns an extended copy.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry builds a registry from the given table.
func NewRegistry(evaluators map[string]Evaluator) *Registry {
	r := &Registry{evaluators: make(map[string]Evaluator, len(evaluators))}
	for ruleType, ev := range evaluators {
		r.evaluators[normalizeRuleType(ruleType)] = ev
	}
	return r
}

// DefaultRegistry returns a registry holding every built-in rule type.
func DefaultRegistry() *Registry {
	return NewRegistry(BuiltinEvaluators())
}

// With returns a copy of r that also maps ruleType to ev, replacing any
// existing registration.
func (r *Registry) With(ruleType string, ev Evaluator) *Registry {
	next := &Registry{evaluators: make(map[string]Evaluator, len(r.evaluators)+1)}
	for k, v := range r.evaluators {
		next.evaluators[k] = v
	}
	next.evaluators[normalizeRuleType(ruleType)] = ev
	return next
}

// Lookup returns the evaluator for ruleType or an *UnknownRuleTypeError.
func (r *Registry) Lookup(ruleType string) (Evaluator, error) {
	ev, ok := r.evaluators[normalizeRuleType(ruleType)]
	if !ok {
		return nil, &UnknownRuleTypeError{RuleType: ruleType}
	}
	return ev, nil
}

func (r *Registry) Has(ruleType string) bool {
	_, ok := r.evaluators[normalizeRuleType(ruleType)]
	return ok
}

// RuleTypes lists registered rule types in lexical order.
func (r *Registry) RuleTypes() []string {
	out := make([]string, 0, len(r.evaluators))
	for k := range r.evaluators {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Describe returns catalog entries for every registered rule type.
func (r *Registry) Describe() []RuleTypeInfo {
	types := r.RuleTypes()
	out := make([]RuleTypeInfo, 0, len(types))
	for _, t := range types {
		info := RuleTypeInfo{RuleType: t, Label: t}
		if d, ok := r.evaluators[t].(describer); ok {
			info = d.Info()
			info.RuleType = t
		}
		out = append(out, info)
	}
	return out
}

func normalizeRuleType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
