package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const (
	ReasonNoActivePrograms    = "No active programs found for this lender"
	ReasonNoQualifyingProgram = "No active program accepts the requested amount and term"
)

// ProgramEvaluation is the outcome of one program's rules.
type ProgramEvaluation struct {
	Program        *LenderProgram
	Results        []EvaluationResult
	FitScore       int
	IsEligible     bool
	RequiredFailed int

	index int
}

// Matcher evaluates a single lender against a context.
type Matcher struct {
	registry *Registry
	scorer   Scorer
	logger   *slog.Logger
}

func NewMatcher(registry *Registry, scorer Scorer, logger *slog.Logger) *Matcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{registry: registry, scorer: scorer, logger: logger}
}

// Match produces exactly one MatchResult for lender. Programs whose amount
// or term bounds exclude the application are skipped; of the rest, the
// eligible program with the best score wins, else the one that failed the
// fewest required rules.
func (m *Matcher) Match(ctx *EvaluationContext, lender *Lender) MatchResult {
	result := MatchResult{LenderID: lender.ID, LenderName: lender.Name}

	programs := activePrograms(lender)
	if len(programs) == 0 {
		return m.withoutProgram(result, ReasonNoActivePrograms)
	}

	var qualifying []*LenderProgram
	var skipped []string
	for _, p := range programs {
		if ok, why := programAdmits(p, ctx); ok {
			qualifying = append(qualifying, p)
		} else {
			skipped = append(skipped, fmt.Sprintf("%s: %s", p.Name, why))
		}
	}
	if len(qualifying) == 0 {
		return m.withoutProgram(result, ReasonNoQualifyingProgram, skipped...)
	}

	var best *ProgramEvaluation
	for i, p := range qualifying {
		pe := m.EvaluateProgram(ctx, p)
		pe.index = i
		if best == nil || betterProgram(&pe, best) {
			best = &pe
		}
	}

	result.ProgramID = best.Program.ID
	result.ProgramName = best.Program.Name
	result.IsEligible = best.IsEligible
	result.FitScore = best.FitScore
	result.EvaluationDetails = m.scorer.Details(best.Results)
	if !best.IsEligible {
		result.Reason = fmt.Sprintf("%d required rule(s) not met in %s", best.RequiredFailed, best.Program.Name)
	}
	return result
}

// EvaluateProgram runs every active rule of p, required rules first, then by
// priority.
func (m *Matcher) EvaluateProgram(ctx *EvaluationContext, p *LenderProgram) ProgramEvaluation {
	ruleSet := activeRules(p)
	results := make([]EvaluationResult, 0, len(ruleSet))
	required := 0
	for _, rule := range ruleSet {
		res := m.EvaluateRule(ctx, rule)
		if res.IsRequired && !res.Passed {
			required++
		}
		results = append(results, res)
	}
	score, eligible := m.scorer.Score(results)
	return ProgramEvaluation{
		Program:        p,
		Results:        results,
		FitScore:       score,
		IsEligible:     eligible,
		RequiredFailed: required,
	}
}

// EvaluateRule never fails: unknown rule types, comparator errors and
// evaluator panics become failed results carrying the diagnostic.
func (m *Matcher) EvaluateRule(ctx *EvaluationContext, rule *PolicyRule) (res EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = m.failClosed(rule, res, fmt.Errorf("evaluator panic: %v", r))
		}
	}()

	ev, err := m.registry.Lookup(rule.RuleType)
	if err == nil {
		res, err = ev.Evaluate(ctx, rule)
	}
	if err != nil {
		return m.failClosed(rule, res, err)
	}
	return res
}

func (m *Matcher) failClosed(rule *PolicyRule, res EvaluationResult, err error) EvaluationResult {
	m.logger.Warn("rule evaluation failed",
		"rule_id", rule.ID,
		"rule_type", rule.RuleType,
		"error", err,
	)
	res.RuleType = rule.RuleType
	res.RuleID = rule.ID
	res.IsRequired = rule.IsRequired
	res.Weight = rule.Weight
	if res.RequiredValue.IsUnknown() {
		res.RequiredValue = rule.Value
	}
	res.Passed = false
	res.Verdict = VerdictError
	res.Reason = "Rule could not be evaluated: " + err.Error()
	return res
}

func (m *Matcher) withoutProgram(result MatchResult, reason string, warnings ...string) MatchResult {
	result.IsEligible = false
	result.FitScore = 0
	result.Reason = reason
	result.EvaluationDetails = m.scorer.Details(nil)
	result.EvaluationDetails.Summary.Warnings = append([]string{reason}, warnings...)
	return result
}

// betterProgram orders candidates: eligible beats ineligible; among eligible,
// higher score; among ineligible, fewer failed required rules then higher
// score. Remaining ties go to lower program priority, then input order.
func betterProgram(a, b *ProgramEvaluation) bool {
	if a.IsEligible != b.IsEligible {
		return a.IsEligible
	}
	if !a.IsEligible && a.RequiredFailed != b.RequiredFailed {
		return a.RequiredFailed < b.RequiredFailed
	}
	if a.FitScore != b.FitScore {
		return a.FitScore > b.FitScore
	}
	if a.Program.Priority != b.Program.Priority {
		return a.Program.Priority < b.Program.Priority
	}
	return a.index < b.index
}

// programAdmits checks a program's amount and term bounds. Bounds on facts
// the application did not supply do not exclude it.
func programAdmits(p *LenderProgram, ctx *EvaluationContext) (bool, string) {
	if amount, ok := ctx.Get(FactAmountRequested).Decimal(); ok {
		if p.MinLoanAmount != nil && amount.LessThan(*p.MinLoanAmount) {
			return false, fmt.Sprintf("amount %s is below program minimum %s", amount, p.MinLoanAmount)
		}
		if p.MaxLoanAmount != nil && amount.GreaterThan(*p.MaxLoanAmount) {
			return false, fmt.Sprintf("amount %s exceeds program maximum %s", amount, p.MaxLoanAmount)
		}
	}
	if term, ok := ctx.Get(FactTermMonths).Decimal(); ok && p.MaxTermMonths != nil {
		if term.IntPart() > int64(*p.MaxTermMonths) {
			return false, fmt.Sprintf("term %s months exceeds program maximum %d", term, *p.MaxTermMonths)
		}
	}
	return true, ""
}

func activePrograms(l *Lender) []*LenderProgram {
	out := make([]*LenderProgram, 0, len(l.Programs))
	for _, p := range l.Programs {
		if p != nil && p.IsActive {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func activeRules(p *LenderProgram) []*PolicyRule {
	out := make([]*PolicyRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r != nil && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsRequired != out[j].IsRequired {
			return out[i].IsRequired
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

// describeLender is used in log lines.
func describeLender(l *Lender) string {
	if l.Name == "" {
		return l.ID
	}
	return strings.TrimSpace(l.Name) + " (" + l.ID + ")"
}
