package rules

import (
	"fmt"
	"math"
)

// DefaultSoftBonusCap is the most points passing soft rules can add.
const DefaultSoftBonusCap = 10

// Scorer turns rule outcomes into a fit score and an eligibility decision.
type Scorer struct {
	SoftBonusCap int
}

func NewScorer(softBonusCap int) Scorer {
	if softBonusCap < 0 {
		softBonusCap = 0
	}
	return Scorer{SoftBonusCap: softBonusCap}
}

// Score returns a 0..100 fit score and whether every required rule passed.
// The score is the rounded pass rate plus a bonus proportional to the weight
// of passing soft rules. Eligibility does not affect the score.
func (s Scorer) Score(results []EvaluationResult) (int, bool) {
	eligible := true
	passed := 0
	softTotal, softPassed := 0, 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
		if r.IsRequired {
			if !r.Passed {
				eligible = false
			}
			continue
		}
		w := weightOf(r)
		softTotal += w
		if r.Verdict == VerdictPass {
			softPassed += w
		}
	}

	if len(results) == 0 {
		return 0, eligible
	}

	score := int(math.Round(float64(passed) / float64(len(results)) * 100))
	if softTotal > 0 && s.SoftBonusCap > 0 {
		score += int(math.Round(float64(s.SoftBonusCap) * float64(softPassed) / float64(softTotal)))
	}
	return clamp(score, 0, 100), eligible
}

// Details builds the evaluation breakdown for one program's results.
func (s Scorer) Details(results []EvaluationResult) EvaluationDetails {
	d := EvaluationDetails{
		RulesEvaluated: len(results),
		Details:        results,
		Summary: Summary{
			Passed:   []EvaluationResult{},
			Failed:   []EvaluationResult{},
			Warnings: []string{},
		},
	}
	if d.Details == nil {
		d.Details = []EvaluationResult{}
	}
	for _, r := range results {
		if r.Passed {
			d.RulesPassed++
			d.Summary.Passed = append(d.Summary.Passed, r)
			continue
		}
		d.RulesFailed++
		d.Summary.Failed = append(d.Summary.Failed, r)
		if w := warningFor(r); w != "" {
			d.Summary.Warnings = append(d.Summary.Warnings, w)
		}
	}
	if d.RulesEvaluated > 0 {
		d.PassRate = float64(d.RulesPassed) / float64(d.RulesEvaluated)
	}
	return d
}

// warningFor reports non-blocking problems: missing data, broken rules and
// soft rules that did not pass.
func warningFor(r EvaluationResult) string {
	switch {
	case r.Verdict == VerdictUndetermined:
		return fmt.Sprintf("%s: missing data (%s)", r.RuleType, r.Reason)
	case r.Verdict == VerdictError:
		return fmt.Sprintf("%s: rule could not be evaluated (%s)", r.RuleType, r.Reason)
	case !r.IsRequired:
		return fmt.Sprintf("%s: soft requirement not met (%s)", r.RuleType, r.Reason)
	}
	return ""
}

func weightOf(r EvaluationResult) int {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
