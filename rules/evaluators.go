package rules

import (
	"fmt"
	"strings"
)

// FactEvaluator is the common evaluator shape: read one fact, compare it
// with the rule's value. Almost every built-in rule type is one of these.
type FactEvaluator struct {
	Label string
	Fact  Fact

	// Operator and Default fill in when a rule leaves them empty.
	Operator Operator
	Default  Value

	// Applies reports whether the rule is relevant to this application.
	// When it is not, the rule passes with the returned reason.
	Applies func(ctx *EvaluationContext) (bool, string)

	// Match canonicalizes the actual value against list items before a
	// membership test.
	Match func(actual Value, items []Value) Value
}

func (e FactEvaluator) Info() RuleTypeInfo {
	return RuleTypeInfo{Label: e.Label, Fact: e.Fact, DefaultOperator: e.Operator}
}

func (e FactEvaluator) Evaluate(ctx *EvaluationContext, rule *PolicyRule) (EvaluationResult, error) {
	op := rule.Operator
	if op == "" {
		op = e.Operator
	}
	expected := rule.Value
	if expected.IsUnknown() {
		expected = e.Default
	}

	res := EvaluationResult{
		RuleType:      rule.RuleType,
		RuleID:        rule.ID,
		RequiredValue: expected,
		IsRequired:    rule.IsRequired,
		Weight:        rule.Weight,
	}

	if e.Applies != nil {
		if ok, why := e.Applies(ctx); !ok {
			res.Verdict = VerdictPass
			res.Passed = true
			res.Reason = why
			return res, nil
		}
	}

	actual := ctx.Get(e.Fact)
	res.ActualValue = actual

	compared := actual
	if e.Match != nil && (op == OpIn || op == OpNotIn) {
		if items, ok := expected.Items(); ok {
			compared = e.Match(actual, items)
		}
	}

	verdict, err := Compare(op, compared, expected)
	if err != nil {
		res.Verdict = VerdictError
		return res, err
	}
	res.Verdict = verdict
	res.Passed = verdict == VerdictPass
	res.Reason = e.reason(rule, op, verdict, actual, expected)
	return res, nil
}

func (e FactEvaluator) reason(rule *PolicyRule, op Operator, verdict Verdict, actual, expected Value) string {
	switch verdict {
	case VerdictUndetermined:
		return fmt.Sprintf("%s not provided; rule requires %s %s", e.Label, op.Symbol(), expected)
	case VerdictFail:
		if msg := strings.TrimSpace(rule.RejectionMessage); msg != "" {
			return msg
		}
	}
	return describe(e.Label, op, verdict == VerdictPass, actual, expected)
}

func describe(label string, op Operator, passed bool, actual, expected Value) string {
	if expected.Kind() == KindBool && (op == OpEQ || op == OpNEQ) {
		if passed {
			return label + ": requirement met"
		}
		return fmt.Sprintf("%s: requirement not met (actual %s, required %s %s)", label, actual, op.Symbol(), expected)
	}

	pick := func(ok, fail string) string {
		if passed {
			return fmt.Sprintf(ok, label, actual, expected)
		}
		return fmt.Sprintf(fail, label, actual, expected)
	}
	switch op {
	case OpGTE:
		return pick("%s %s meets minimum of %s", "%s %s is below minimum of %s")
	case OpGT:
		return pick("%s %s is above %s", "%s %s is not above %s")
	case OpLTE:
		return pick("%s %s is within maximum of %s", "%s %s exceeds maximum of %s")
	case OpLT:
		return pick("%s %s is below %s", "%s %s is not below %s")
	case OpEQ:
		return pick("%s %s matches required %s", "%s is %s, required %s")
	case OpNEQ:
		return pick("%s %s differs from %s", "%s is %s, which is not allowed (%s)")
	case OpIn:
		return pick("%s %s is in allowed list %s", "%s %s is not in allowed list %s")
	case OpNotIn:
		return pick("%s %s is not in excluded list %s", "%s %s is in excluded list %s")
	case OpBetween:
		return pick("%s %s is within range %s", "%s %s is outside range %s")
	case OpExists:
		if passed {
			return label + " is provided"
		}
		return label + " is not provided"
	case OpNotExists:
		if passed {
			return label + " is not provided"
		}
		return label + " is provided"
	}
	return fmt.Sprintf("%s %s %s %s", label, actual, op.Symbol(), expected)
}

// partialMatch maps actual onto the first list item that contains it or is
// contained by it, ignoring case, so "Cannabis Dispensary" is caught by an
// exclusion of "cannabis".
func partialMatch(actual Value, items []Value) Value {
	s, ok := actual.Str()
	if !ok {
		return actual
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, item := range items {
		t, ok := item.Str()
		if !ok {
			continue
		}
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.Contains(s, t) || strings.Contains(t, s) {
			return item
		}
	}
	return actual
}

func bankruptcyOnRecord(ctx *EvaluationContext) (bool, string) {
	if b, ok := ctx.Get(FactHasBankruptcy).Flag(); ok && !b {
		return false, "No bankruptcy on record"
	}
	return true, ""
}

func mileageApplies(ctx *EvaluationContext) (bool, string) {
	titled, known := ctx.Get(FactIsTitledAsset).Flag()
	trucking, _ := ctx.Get(FactIsTrucking).Flag()
	if known && !titled && !trucking {
		return false, "Mileage not applicable for untitled equipment"
	}
	return true, ""
}

// BuiltinEvaluators returns a fresh table of every built-in rule type.
func BuiltinEvaluators() map[string]Evaluator {
	m := map[string]Evaluator{
		// Credit
		"fico_min":                FactEvaluator{Label: "FICO score", Fact: FactFICOScore, Operator: OpGTE},
		"fico_max":                FactEvaluator{Label: "FICO score", Fact: FactFICOScore, Operator: OpLTE},
		"fico_source":             FactEvaluator{Label: "FICO bureau", Fact: FactFICOSource, Operator: OpIn},
		"paynet_min":              FactEvaluator{Label: "PayNet score", Fact: FactPaynetScore, Operator: OpGTE},
		"paynet_max":              FactEvaluator{Label: "PayNet score", Fact: FactPaynetScore, Operator: OpLTE},
		"comparable_credit_pct":   FactEvaluator{Label: "Comparable credit %", Fact: FactComparableCreditPct, Operator: OpGTE},
		"revolving_available_min": FactEvaluator{Label: "Revolving credit available %", Fact: FactRevolvingAvailablePct, Operator: OpGTE},

		// Business
		"tib_min":        FactEvaluator{Label: "Years in business", Fact: FactYearsInBusiness, Operator: OpGTE},
		"tib_max":        FactEvaluator{Label: "Years in business", Fact: FactYearsInBusiness, Operator: OpLTE},
		"revenue_min":    FactEvaluator{Label: "Annual revenue", Fact: FactAnnualRevenue, Operator: OpGTE},
		"num_trucks_min": FactEvaluator{Label: "Truck count", Fact: FactNumTrucks, Operator: OpGTE},
		"no_startups":    FactEvaluator{Label: "Established business", Fact: FactIsStartup, Operator: OpEQ, Default: Bool(false)},

		// Loan terms
		"amount_min": FactEvaluator{Label: "Amount requested", Fact: FactAmountRequested, Operator: OpGTE},
		"amount_max": FactEvaluator{Label: "Amount requested", Fact: FactAmountRequested, Operator: OpLTE},
		"term_max":   FactEvaluator{Label: "Term in months", Fact: FactTermMonths, Operator: OpLTE},

		// Equipment
		"equipment_age_max":     FactEvaluator{Label: "Equipment age in years", Fact: FactEquipmentAge, Operator: OpLTE},
		"equipment_year_min":    FactEvaluator{Label: "Equipment year", Fact: FactEquipmentYear, Operator: OpGTE},
		"equipment_mileage_max": FactEvaluator{Label: "Equipment mileage", Fact: FactEquipmentMileage, Operator: OpLTE, Applies: mileageApplies},
		"new_equipment_only":    FactEvaluator{Label: "New equipment", Fact: FactEquipmentIsNew, Operator: OpEQ, Default: Bool(true)},
		"requires_titled_asset": FactEvaluator{Label: "Titled asset", Fact: FactIsTitledAsset, Operator: OpEQ, Default: Bool(true)},

		// Inclusion and exclusion lists
		"excluded_states":     FactEvaluator{Label: "State", Fact: FactState, Operator: OpNotIn},
		"allowed_states":      FactEvaluator{Label: "State", Fact: FactState, Operator: OpIn},
		"excluded_industries": FactEvaluator{Label: "Industry", Fact: FactIndustry, Operator: OpNotIn, Match: partialMatch},
		"excluded_equipment":  FactEvaluator{Label: "Equipment type", Fact: FactEquipmentType, Operator: OpNotIn, Match: partialMatch},

		// Credit history
		"no_bankruptcies":       FactEvaluator{Label: "No bankruptcy on record", Fact: FactHasBankruptcy, Operator: OpEQ, Default: Bool(false)},
		"bankruptcy_years_min":  FactEvaluator{Label: "Years since bankruptcy discharge", Fact: FactYearsSinceBankruptcy, Operator: OpGTE, Applies: bankruptcyOnRecord},
		"no_judgments":          FactEvaluator{Label: "No judgments", Fact: FactHasJudgments, Operator: OpEQ, Default: Bool(false)},
		"no_foreclosures":       FactEvaluator{Label: "No foreclosures", Fact: FactHasForeclosure, Operator: OpEQ, Default: Bool(false)},
		"no_repossessions":      FactEvaluator{Label: "No repossessions", Fact: FactHasRepossession, Operator: OpEQ, Default: Bool(false)},
		"no_tax_liens":          FactEvaluator{Label: "No tax liens", Fact: FactHasTaxLiens, Operator: OpEQ, Default: Bool(false)},
		"no_recent_collections": FactEvaluator{Label: "No recent collections", Fact: FactHasRecentCollections, Operator: OpEQ, Default: Bool(false)},

		// Guarantor profile
		"requires_homeowner":  FactEvaluator{Label: "Homeowner", Fact: FactIsHomeowner, Operator: OpEQ, Default: Bool(true)},
		"requires_cdl":        FactEvaluator{Label: "Commercial driver's license", Fact: FactHasCDL, Operator: OpEQ, Default: Bool(true)},
		"cdl_years_min":       FactEvaluator{Label: "CDL experience in years", Fact: FactCDLYears, Operator: OpGTE},
		"requires_us_citizen": FactEvaluator{Label: "US citizen", Fact: FactIsUSCitizen, Operator: OpEQ, Default: Bool(true)},

		// Transaction structure
		"no_private_party":  FactEvaluator{Label: "Not a private-party sale", Fact: FactIsPrivatePartySale, Operator: OpEQ, Default: Bool(false)},
		"no_refinance":      FactEvaluator{Label: "Not a refinance", Fact: FactIsRefinance, Operator: OpEQ, Default: Bool(false)},
		"no_sale_leaseback": FactEvaluator{Label: "Not a sale-leaseback", Fact: FactIsSaleLeaseback, Operator: OpEQ, Default: Bool(false)},

		"custom_expression": NewExpressionEvaluator(),
	}

	for alias, target := range map[string]string{
		"state_exclude":     "excluded_states",
		"state_include":     "allowed_states",
		"industry_exclude":  "excluded_industries",
		"equipment_exclude": "excluded_equipment",
	} {
		m[alias] = m[target]
	}
	return m
}
