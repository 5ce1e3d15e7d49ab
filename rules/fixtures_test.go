package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

var testAsOf = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// sampleSubmission is a Texas trucking company with a single 100% owner.
func sampleSubmission() (Borrower, LoanApplication) {
	borrower := Borrower{
		ID:              "bor-1",
		BusinessName:    "Lone Star Hauling LLC",
		Industry:        "Transportation",
		State:           "TX",
		YearsInBusiness: decPtr("5"),
		AnnualRevenue:   decPtr("1200000"),
		IsStartup:       boolPtr(false),
		Guarantors: []Guarantor{{
			FirstName:           "Dana",
			LastName:            "Ortiz",
			OwnershipPercentage: decimal.NewFromInt(100),
			FICOScore:           intPtr(720),
			IsHomeowner:         boolPtr(true),
			HasBankruptcy:       boolPtr(false),
		}},
	}
	app := LoanApplication{
		ID:              "app-1",
		BorrowerID:      "bor-1",
		Status:          ApplicationSubmitted,
		AmountRequested: decPtr("85000"),
		TermMonths:      intPtr(60),
		EquipmentType:   "Class 8 Truck",
		EquipmentYear:   intPtr(2021),
		PaynetScore:     intPtr(700),
		IsTitledAsset:   boolPtr(true),
	}
	return borrower, app
}

func sampleContext() *EvaluationContext {
	b, a := sampleSubmission()
	ctx, err := BuildContext(b, a, testAsOf)
	if err != nil {
		panic(err)
	}
	return ctx
}

func rule(id, ruleType string, op Operator, value Value) *PolicyRule {
	return &PolicyRule{
		ID:         id,
		RuleType:   ruleType,
		Operator:   op,
		Value:      value,
		IsRequired: true,
		Weight:     1,
		IsActive:   true,
	}
}

func soft(r *PolicyRule, weight int) *PolicyRule {
	r.IsRequired = false
	r.Weight = weight
	return r
}

func program(id string, priority int, rules ...*PolicyRule) *LenderProgram {
	return &LenderProgram{ID: id, Name: id, Priority: priority, IsActive: true, Rules: rules}
}

func lender(id string, programs ...*LenderProgram) *Lender {
	return &Lender{ID: id, Name: id, IsActive: true, Programs: programs}
}

// standardRules are the credit box used by most matching tests.
func standardRules() []*PolicyRule {
	return []*PolicyRule{
		rule("r-fico", "fico_min", OpGTE, Int(680)),
		rule("r-paynet", "paynet_min", OpGTE, Int(660)),
		rule("r-state", "state_exclude", OpNotIn, Texts("CA", "NV", "ND", "VT")),
	}
}
