package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// Guarantor is a personal guarantor of the borrowing business. Pointer
// fields are optional; nil means the applicant did not say.
type Guarantor struct {
	ID                      string           `json:"id,omitempty"`
	FirstName               string           `json:"first_name"`
	LastName                string           `json:"last_name"`
	OwnershipPercentage     decimal.Decimal  `json:"ownership_percentage"`
	FICOScore               *int             `json:"fico_score,omitempty"`
	FICOSource              string           `json:"fico_source,omitempty"`
	IsHomeowner             *bool            `json:"is_homeowner,omitempty"`
	HasBankruptcy           *bool            `json:"has_bankruptcy,omitempty"`
	BankruptcyDischargeDate *time.Time       `json:"bankruptcy_discharge_date,omitempty"`
	HasJudgments            *bool            `json:"has_judgments,omitempty"`
	HasForeclosure          *bool            `json:"has_foreclosure,omitempty"`
	HasRepossession         *bool            `json:"has_repossession,omitempty"`
	HasTaxLiens             *bool            `json:"has_tax_liens,omitempty"`
	HasRecentCollections    *bool            `json:"has_recent_collections,omitempty"`
	RevolvingAvailablePct   *decimal.Decimal `json:"revolving_available_pct,omitempty"`
	HasCDL                  *bool            `json:"has_cdl,omitempty"`
	CDLYears                *int             `json:"cdl_years,omitempty"`
}

// Borrower is the business applying for credit.
type Borrower struct {
	ID              string           `json:"id,omitempty"`
	BusinessName    string           `json:"business_name"`
	Industry        string           `json:"industry,omitempty"`
	State           string           `json:"state,omitempty"`
	YearsInBusiness *decimal.Decimal `json:"years_in_business,omitempty"`
	AnnualRevenue   *decimal.Decimal `json:"annual_revenue,omitempty"`
	IsStartup       *bool            `json:"is_startup,omitempty"`
	NumTrucks       *int             `json:"num_trucks,omitempty"`
	IsHomeowner     *bool            `json:"is_homeowner,omitempty"`
	IsUSCitizen     *bool            `json:"is_us_citizen,omitempty"`
	Guarantors      []Guarantor      `json:"guarantors"`
}

// ApplicationStatus tracks an application through underwriting.
type ApplicationStatus string

const (
	ApplicationDraft        ApplicationStatus = "draft"
	ApplicationSubmitted    ApplicationStatus = "submitted"
	ApplicationUnderwriting ApplicationStatus = "underwriting"
	ApplicationCompleted    ApplicationStatus = "completed"
	ApplicationFailed       ApplicationStatus = "failed"
)

// LoanApplication holds the requested terms and the equipment being financed.
type LoanApplication struct {
	ID                  string            `json:"id"`
	BorrowerID          string            `json:"borrower_id,omitempty"`
	Status              ApplicationStatus `json:"status"`
	AmountRequested     *decimal.Decimal  `json:"amount_requested,omitempty"`
	TermMonths          *int              `json:"term_months,omitempty"`
	EquipmentType       string            `json:"equipment_type,omitempty"`
	EquipmentYear       *int              `json:"equipment_year,omitempty"`
	EquipmentAgeYears   *int              `json:"equipment_age_years,omitempty"`
	EquipmentMileage    *int              `json:"equipment_mileage,omitempty"`
	EquipmentCondition  string            `json:"equipment_condition,omitempty"`
	IsPrivatePartySale  *bool             `json:"is_private_party_sale,omitempty"`
	IsTitledAsset       *bool             `json:"is_titled_asset,omitempty"`
	IsRefinance         *bool             `json:"is_refinance,omitempty"`
	IsSaleLeaseback     *bool             `json:"is_sale_leaseback,omitempty"`
	PaynetScore         *int              `json:"paynet_score,omitempty"`
	ComparableCreditPct *decimal.Decimal  `json:"comparable_credit_pct,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Submission pairs an application with its borrower, the unit callers store
// and underwrite.
type Submission struct {
	Borrower    Borrower        `json:"borrower"`
	Application LoanApplication `json:"application"`
}

// Clone deep-copies the submission, including every optional field.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.Borrower = s.Borrower.clone()
	c.Application = s.Application.clone()
	return &c
}

func (b Borrower) clone() Borrower {
	b.YearsInBusiness = cloneDecimal(b.YearsInBusiness)
	b.AnnualRevenue = cloneDecimal(b.AnnualRevenue)
	b.IsStartup = clonePtr(b.IsStartup)
	b.NumTrucks = clonePtr(b.NumTrucks)
	b.IsHomeowner = clonePtr(b.IsHomeowner)
	b.IsUSCitizen = clonePtr(b.IsUSCitizen)
	gs := make([]Guarantor, len(b.Guarantors))
	for i, g := range b.Guarantors {
		g.FICOScore = clonePtr(g.FICOScore)
		g.IsHomeowner = clonePtr(g.IsHomeowner)
		g.HasBankruptcy = clonePtr(g.HasBankruptcy)
		g.BankruptcyDischargeDate = clonePtr(g.BankruptcyDischargeDate)
		g.HasJudgments = clonePtr(g.HasJudgments)
		g.HasForeclosure = clonePtr(g.HasForeclosure)
		g.HasRepossession = clonePtr(g.HasRepossession)
		g.HasTaxLiens = clonePtr(g.HasTaxLiens)
		g.HasRecentCollections = clonePtr(g.HasRecentCollections)
		g.RevolvingAvailablePct = cloneDecimal(g.RevolvingAvailablePct)
		g.HasCDL = clonePtr(g.HasCDL)
		g.CDLYears = clonePtr(g.CDLYears)
		gs[i] = g
	}
	b.Guarantors = gs
	return b
}

func (a LoanApplication) clone() LoanApplication {
	a.AmountRequested = cloneDecimal(a.AmountRequested)
	a.TermMonths = clonePtr(a.TermMonths)
	a.EquipmentYear = clonePtr(a.EquipmentYear)
	a.EquipmentAgeYears = clonePtr(a.EquipmentAgeYears)
	a.EquipmentMileage = clonePtr(a.EquipmentMileage)
	a.IsPrivatePartySale = clonePtr(a.IsPrivatePartySale)
	a.IsTitledAsset = clonePtr(a.IsTitledAsset)
	a.IsRefinance = clonePtr(a.IsRefinance)
	a.IsSaleLeaseback = clonePtr(a.IsSaleLeaseback)
	a.PaynetScore = clonePtr(a.PaynetScore)
	a.ComparableCreditPct = cloneDecimal(a.ComparableCreditPct)
	return a
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
