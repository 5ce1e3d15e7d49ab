package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// PolicyRule is one test a program applies to an application.
type PolicyRule struct {
	ID               string    `json:"id"`
	ProgramID        string    `json:"program_id,omitempty"`
	RuleType         string    `json:"rule_type"`
	Operator         Operator  `json:"operator"`
	Value            Value     `json:"value"`
	Description      string    `json:"description,omitempty"`
	RejectionMessage string    `json:"rejection_message,omitempty"`
	IsRequired       bool      `json:"is_required"`
	Weight           int       `json:"weight"`
	Priority         int       `json:"priority"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreditTier labels the credit band a program targets.
type CreditTier string

const (
	TierA CreditTier = "A"
	TierB CreditTier = "B"
	TierC CreditTier = "C"
	TierD CreditTier = "D"
)

// LenderProgram is a tier of a lender's policy with its own bounds.
type LenderProgram struct {
	ID            string           `json:"id"`
	LenderID      string           `json:"lender_id,omitempty"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	CreditTier    CreditTier       `json:"credit_tier,omitempty"`
	MinLoanAmount *decimal.Decimal `json:"min_loan_amount,omitempty"`
	MaxLoanAmount *decimal.Decimal `json:"max_loan_amount,omitempty"`
	MaxTermMonths *int             `json:"max_term_months,omitempty"`
	IsAppOnly     bool             `json:"is_app_only"`
	Priority      int              `json:"priority"`
	IsActive      bool             `json:"is_active"`
	Rules         []*PolicyRule    `json:"rules"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Lender owns one or more programs.
type Lender struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	ShortName    string           `json:"short_name,omitempty"`
	Description  string           `json:"description,omitempty"`
	ContactName  string           `json:"contact_name,omitempty"`
	ContactEmail string           `json:"contact_email,omitempty"`
	ContactPhone string           `json:"contact_phone,omitempty"`
	Website      string           `json:"website,omitempty"`
	IsActive     bool             `json:"is_active"`
	Programs     []*LenderProgram `json:"programs"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// EvaluationResult is the outcome of a single rule. Passed is true only for
// VerdictPass.
type EvaluationResult struct {
	RuleType      string  `json:"rule_type"`
	RuleID        string  `json:"rule_id"`
	Passed        bool    `json:"passed"`
	Verdict       Verdict `json:"verdict"`
	RequiredValue Value   `json:"required_value"`
	ActualValue   Value   `json:"actual_value"`
	IsRequired    bool    `json:"is_required"`
	Weight        int     `json:"weight"`
	Reason        string  `json:"reason"`
}

// Summary splits a program's results for display.
type Summary struct {
	Passed   []EvaluationResult `json:"passed"`
	Failed   []EvaluationResult `json:"failed"`
	Warnings []string           `json:"warnings"`
}

// EvaluationDetails is the breakdown attached to a MatchResult.
type EvaluationDetails struct {
	RulesEvaluated int                `json:"rules_evaluated"`
	RulesPassed    int                `json:"rules_passed"`
	RulesFailed    int                `json:"rules_failed"`
	PassRate       float64            `json:"pass_rate"`
	Details        []EvaluationResult `json:"details"`
	Summary        Summary            `json:"summary"`
}

// MatchResult is the verdict for one lender.
type MatchResult struct {
	LenderID          string            `json:"lender_id"`
	LenderName        string            `json:"lender_name,omitempty"`
	ProgramID         string            `json:"program_id,omitempty"`
	ProgramName       string            `json:"program_name,omitempty"`
	IsEligible        bool              `json:"is_eligible"`
	FitScore          int               `json:"fit_score"`
	Reason            string            `json:"reason,omitempty"`
	EvaluationDetails EvaluationDetails `json:"evaluation_details"`
}

// UnderwritingStatus is the state reported with UnderwritingResults.
type UnderwritingStatus string

const (
	StatusCompleted UnderwritingStatus = "completed"
)

// UnderwritingResults is the whole-application output.
type UnderwritingResults struct {
	ApplicationID   string             `json:"application_id"`
	Status          UnderwritingStatus `json:"status"`
	TotalLenders    int                `json:"total_lenders"`
	EligibleCount   int                `json:"eligible_count"`
	IneligibleCount int                `json:"ineligible_count"`
	BestMatch       *MatchResult       `json:"best_match,omitempty"`
	Results         []MatchResult      `json:"results"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *PolicyRule) Clone() *PolicyRule {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Clone deep-copies the program and its rules.
func (p *LenderProgram) Clone() *LenderProgram {
	if p == nil {
		return nil
	}
	c := *p
	c.MinLoanAmount = cloneDecimal(p.MinLoanAmount)
	c.MaxLoanAmount = cloneDecimal(p.MaxLoanAmount)
	if p.MaxTermMonths != nil {
		n := *p.MaxTermMonths
		c.MaxTermMonths = &n
	}
	c.Rules = make([]*PolicyRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		c.Rules = append(c.Rules, r.Clone())
	}
	return &c
}

// Clone deep-copies the lender, its programs and their rules.
func (l *Lender) Clone() *Lender {
	if l == nil {
		return nil
	}
	c := *l
	c.Programs = make([]*LenderProgram, 0, len(l.Programs))
	for _, p := range l.Programs {
		c.Programs = append(c.Programs, p.Clone())
	}
	return &c
}

// Clone copies the results. Values are immutable, so result rows are copied
// by value.
func (u *UnderwritingResults) Clone() *UnderwritingResults {
	if u == nil {
		return nil
	}
	c := *u
	c.Results = make([]MatchResult, len(u.Results))
	for i, m := range u.Results {
		c.Results[i] = m.clone()
	}
	if u.BestMatch != nil {
		best := u.BestMatch.clone()
		c.BestMatch = &best
	}
	return &c
}

func (m MatchResult) clone() MatchResult {
	d := m.EvaluationDetails
	d.Details = append([]EvaluationResult{}, d.Details...)
	d.Summary.Passed = append([]EvaluationResult{}, d.Summary.Passed...)
	d.Summary.Failed = append([]EvaluationResult{}, d.Summary.Failed...)
	d.Summary.Warnings = append([]string{}, d.Summary.Warnings...)
	m.EvaluationDetails = d
	return m
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
