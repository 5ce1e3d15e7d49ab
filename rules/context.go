package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fact names one entry in an EvaluationContext.
type Fact string

const (
	// Business
	FactBusinessName    Fact = "business_name"
	FactIndustry        Fact = "industry"
	FactState           Fact = "state"
	FactYearsInBusiness Fact = "years_in_business"
	FactAnnualRevenue   Fact = "annual_revenue"
	FactIsStartup       Fact = "is_startup"
	FactNumTrucks       Fact = "num_trucks"
	FactIsUSCitizen     Fact = "is_us_citizen"
	FactIsHomeowner     Fact = "is_homeowner"

	// Primary guarantor
	FactFICOScore             Fact = "fico_score"
	FactFICOSource            Fact = "fico_source"
	FactGuarantorHomeowner    Fact = "guarantor_is_homeowner"
	FactHasBankruptcy         Fact = "has_bankruptcy"
	FactYearsSinceBankruptcy  Fact = "years_since_bankruptcy"
	FactHasJudgments          Fact = "has_judgments"
	FactHasForeclosure        Fact = "has_foreclosure"
	FactHasRepossession       Fact = "has_repossession"
	FactHasTaxLiens           Fact = "has_tax_liens"
	FactHasRecentCollections  Fact = "has_recent_collections"
	FactRevolvingAvailablePct Fact = "revolving_available_pct"
	FactHasCDL                Fact = "has_cdl"
	FactCDLYears              Fact = "cdl_years"

	// Loan and equipment
	FactAmountRequested     Fact = "amount_requested"
	FactTermMonths          Fact = "term_months"
	FactEquipmentType       Fact = "equipment_type"
	FactEquipmentYear       Fact = "equipment_year"
	FactEquipmentAge        Fact = "equipment_age_years"
	FactEquipmentIsNew      Fact = "equipment_is_new"
	FactEquipmentMileage    Fact = "equipment_mileage"
	FactEquipmentCondition  Fact = "equipment_condition"
	FactPaynetScore         Fact = "paynet_score"
	FactComparableCreditPct Fact = "comparable_credit_pct"
	FactIsPrivatePartySale  Fact = "is_private_party_sale"
	FactIsTitledAsset       Fact = "is_titled_asset"
	FactIsRefinance         Fact = "is_refinance"
	FactIsSaleLeaseback     Fact = "is_sale_leaseback"
	FactIsTrucking          Fact = "is_trucking"
)

// AllFacts lists every fact the context builder can produce.
func AllFacts() []Fact {
	return []Fact{
		FactBusinessName, FactIndustry, FactState, FactYearsInBusiness, FactAnnualRevenue,
		FactIsStartup, FactNumTrucks, FactIsUSCitizen, FactIsHomeowner,
		FactFICOScore, FactFICOSource, FactGuarantorHomeowner, FactHasBankruptcy,
		FactYearsSinceBankruptcy, FactHasJudgments, FactHasForeclosure, FactHasRepossession,
		FactHasTaxLiens, FactHasRecentCollections, FactRevolvingAvailablePct, FactHasCDL, FactCDLYears,
		FactAmountRequested, FactTermMonths, FactEquipmentType, FactEquipmentYear, FactEquipmentAge,
		FactEquipmentIsNew, FactEquipmentMileage, FactEquipmentCondition, FactPaynetScore,
		FactComparableCreditPct, FactIsPrivatePartySale, FactIsTitledAsset, FactIsRefinance,
		FactIsSaleLeaseback, FactIsTrucking,
	}
}

var truckingKeywords = []string{"truck", "trailer", "reefer", "class 8", "semi", "tractor", "otr"}

// EvaluationContext is the read-only fact set rules are evaluated against.
// Facts nobody supplied read back as the unknown Value.
type EvaluationContext struct {
	applicationID string
	asOf          time.Time
	facts         map[Fact]Value
}

// NewContext builds a context directly from facts. The map is copied.
func NewContext(applicationID string, asOf time.Time, facts map[Fact]Value) *EvaluationContext {
	c := &EvaluationContext{
		applicationID: applicationID,
		asOf:          asOf,
		facts:         make(map[Fact]Value, len(facts)),
	}
	for k, v := range facts {
		if !v.IsUnknown() {
			c.facts[k] = v
		}
	}
	return c
}

func (c *EvaluationContext) ApplicationID() string { return c.applicationID }
func (c *EvaluationContext) AsOf() time.Time       { return c.asOf }

// Get returns the named fact, or the unknown Value.
func (c *EvaluationContext) Get(f Fact) Value { return c.facts[f] }

// Facts returns a copy of every known fact.
func (c *EvaluationContext) Facts() map[Fact]Value {
	out := make(map[Fact]Value, len(c.facts))
	for k, v := range c.facts {
		out[k] = v
	}
	return out
}

// BuildContext flattens a borrower and application into an EvaluationContext.
// asOf anchors derived ages; callers pass the run's clock.
func BuildContext(borrower Borrower, app LoanApplication, asOf time.Time) (*EvaluationContext, error) {
	if app.AmountRequested == nil && strings.TrimSpace(app.EquipmentType) == "" {
		return nil, &ContextError{
			ApplicationID: app.ID,
			Missing:       []string{string(FactAmountRequested), string(FactEquipmentType)},
		}
	}

	f := map[Fact]Value{
		FactBusinessName:    OptText(borrower.BusinessName),
		FactIndustry:        OptText(borrower.Industry),
		FactState:           OptText(strings.ToUpper(borrower.State)),
		FactYearsInBusiness: OptDecimal(borrower.YearsInBusiness),
		FactAnnualRevenue:   OptDecimal(borrower.AnnualRevenue),
		FactIsStartup:       OptBool(borrower.IsStartup),
		FactNumTrucks:       OptInt(borrower.NumTrucks),
		FactIsUSCitizen:     OptBool(borrower.IsUSCitizen),

		FactAmountRequested:     OptDecimal(app.AmountRequested),
		FactTermMonths:          OptInt(app.TermMonths),
		FactEquipmentType:       OptText(app.EquipmentType),
		FactEquipmentYear:       OptInt(app.EquipmentYear),
		FactEquipmentMileage:    OptInt(app.EquipmentMileage),
		FactEquipmentCondition:  OptText(strings.ToLower(app.EquipmentCondition)),
		FactPaynetScore:         OptInt(app.PaynetScore),
		FactComparableCreditPct: OptDecimal(app.ComparableCreditPct),
		FactIsPrivatePartySale:  OptBool(app.IsPrivatePartySale),
		FactIsTitledAsset:       OptBool(app.IsTitledAsset),
		FactIsRefinance:         OptBool(app.IsRefinance),
		FactIsSaleLeaseback:     OptBool(app.IsSaleLeaseback),
	}

	age := equipmentAge(app, asOf)
	f[FactEquipmentAge] = OptInt(age)
	f[FactEquipmentIsNew] = equipmentIsNew(age, app.EquipmentCondition)
	f[FactIsTrucking] = isTrucking(app.EquipmentType, borrower.Industry)

	homeowner := []Value{OptBool(borrower.IsHomeowner)}
	if g := PrimaryGuarantor(borrower.Guarantors); g != nil {
		homeowner = append(homeowner, OptBool(g.IsHomeowner))
		f[FactFICOScore] = OptInt(g.FICOScore)
		f[FactFICOSource] = OptText(g.FICOSource)
		f[FactGuarantorHomeowner] = OptBool(g.IsHomeowner)
		f[FactHasBankruptcy] = OptBool(g.HasBankruptcy)
		f[FactYearsSinceBankruptcy] = yearsSince(g.HasBankruptcy, g.BankruptcyDischargeDate, asOf)
		f[FactHasJudgments] = OptBool(g.HasJudgments)
		f[FactHasForeclosure] = OptBool(g.HasForeclosure)
		f[FactHasRepossession] = OptBool(g.HasRepossession)
		f[FactHasTaxLiens] = OptBool(g.HasTaxLiens)
		f[FactHasRecentCollections] = OptBool(g.HasRecentCollections)
		f[FactRevolvingAvailablePct] = OptDecimal(g.RevolvingAvailablePct)
		f[FactHasCDL] = OptBool(g.HasCDL)
		f[FactCDLYears] = OptInt(g.CDLYears)
	}
	f[FactIsHomeowner] = anyTrue(homeowner...)

	return NewContext(app.ID, asOf, f), nil
}

// PrimaryGuarantor returns the guarantor with the largest ownership share.
// Ties keep the earlier guarantor. Nil when there are none.
func PrimaryGuarantor(gs []Guarantor) *Guarantor {
	var best *Guarantor
	for i := range gs {
		if best == nil || gs[i].OwnershipPercentage.GreaterThan(best.OwnershipPercentage) {
			best = &gs[i]
		}
	}
	return best
}

func equipmentAge(app LoanApplication, asOf time.Time) *int {
	if app.EquipmentAgeYears != nil {
		age := *app.EquipmentAgeYears
		return &age
	}
	if app.EquipmentYear == nil {
		return nil
	}
	age := asOf.Year() - *app.EquipmentYear
	if age < 0 {
		age = 0
	}
	return &age
}

func equipmentIsNew(age *int, condition string) Value {
	if age != nil {
		return Bool(*age == 0)
	}
	switch strings.ToLower(strings.TrimSpace(condition)) {
	case "new":
		return Bool(true)
	case "used":
		return Bool(false)
	}
	return Unknown()
}

func isTrucking(equipmentType, industry string) Value {
	haystack := strings.ToLower(equipmentType + " " + industry)
	if strings.TrimSpace(haystack) == "" {
		return Unknown()
	}
	for _, kw := range truckingKeywords {
		if strings.Contains(haystack, kw) {
			return Bool(true)
		}
	}
	return Bool(false)
}

// yearsSince counts whole years from the discharge date. It is only known
// when a bankruptcy is on record and dated.
func yearsSince(hasBankruptcy *bool, discharged *time.Time, asOf time.Time) Value {
	if hasBankruptcy == nil || !*hasBankruptcy || discharged == nil {
		return Unknown()
	}
	years := asOf.Year() - discharged.Year()
	if asOf.Month() < discharged.Month() ||
		(asOf.Month() == discharged.Month() && asOf.Day() < discharged.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return Number(decimal.NewFromInt(int64(years)))
}

// anyTrue is a three-valued OR: true if any input is true, false only when
// every input is known false.
func anyTrue(vals ...Value) Value {
	unknown := false
	for _, v := range vals {
		b, ok := v.Flag()
		if !ok {
			unknown = true
			continue
		}
		if b {
			return Bool(true)
		}
	}
	if unknown {
		return Unknown()
	}
	return Bool(false)
}
