package main

import (
	"github.com/shopspring/decimal"

	"github.com/liamcoop/lendermatch/internal/logger"
	"github.com/liamcoop/lendermatch/policy"
	"github.com/liamcoop/lendermatch/rules"
)

// API request and response models. Flags that default to true are pointers
// so an omitted field can be told apart from false.

// RuleRequest is the body for creating or replacing a policy rule
type RuleRequest struct {
	RuleType         string      `json:"rule_type" example:"fico_min"`
	Operator         string      `json:"operator,omitempty" example:"gte"`
	Value            rules.Value `json:"value"`
	Description      string      `json:"description,omitempty"`
	RejectionMessage string      `json:"rejection_message,omitempty" example:"FICO score must be at least 680"`
	IsRequired       *bool       `json:"is_required,omitempty"`
	Weight           *int        `json:"weight,omitempty" example:"1"`
	Priority         int         `json:"priority"`
	IsActive         *bool       `json:"is_active,omitempty"`
}

func (req RuleRequest) toRule(id string) (*rules.PolicyRule, error) {
	var op rules.Operator
	if req.Operator != "" {
		parsed, err := rules.ParseOperator(req.Operator)
		if err != nil {
			return nil, &policy.ValidationError{Field: "operator", Message: err.Error()}
		}
		op = parsed
	}
	weight := 1
	if req.Weight != nil {
		weight = *req.Weight
	}
	return &rules.PolicyRule{
		ID:               id,
		RuleType:         req.RuleType,
		Operator:         op,
		Value:            req.Value,
		Description:      req.Description,
		RejectionMessage: req.RejectionMessage,
		IsRequired:       boolOr(req.IsRequired, true),
		Weight:           weight,
		Priority:         req.Priority,
		IsActive:         boolOr(req.IsActive, true),
	}, nil
}

// ProgramRequest is the body for creating or replacing a program. Rules are
// only read on create.
type ProgramRequest struct {
	Name          string           `json:"name" example:"Standard Program"`
	Description   string           `json:"description,omitempty"`
	CreditTier    rules.CreditTier `json:"credit_tier,omitempty" example:"A"`
	MinLoanAmount *decimal.Decimal `json:"min_loan_amount,omitempty" example:"15000"`
	MaxLoanAmount *decimal.Decimal `json:"max_loan_amount,omitempty" example:"350000"`
	MaxTermMonths *int             `json:"max_term_months,omitempty" example:"60"`
	IsAppOnly     bool             `json:"is_app_only"`
	Priority      int              `json:"priority"`
	IsActive      *bool            `json:"is_active,omitempty"`
	Rules         []RuleRequest    `json:"rules,omitempty"`
}

func (req ProgramRequest) toProgram(id string) (*rules.LenderProgram, error) {
	p := &rules.LenderProgram{
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		CreditTier:    req.CreditTier,
		MinLoanAmount: req.MinLoanAmount,
		MaxLoanAmount: req.MaxLoanAmount,
		MaxTermMonths: req.MaxTermMonths,
		IsAppOnly:     req.IsAppOnly,
		Priority:      req.Priority,
		IsActive:      boolOr(req.IsActive, true),
		Rules:         make([]*rules.PolicyRule, 0, len(req.Rules)),
	}
	for _, rr := range req.Rules {
		r, err := rr.toRule("")
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

// LenderRequest is the body for creating or replacing a lender. Programs are
// only read on create.
type LenderRequest struct {
	Name         string           `json:"name" example:"Falcon Equipment Finance"`
	ShortName    string           `json:"short_name,omitempty" example:"Falcon"`
	Description  string           `json:"description,omitempty"`
	ContactName  string           `json:"contact_name,omitempty"`
	ContactEmail string           `json:"contact_email,omitempty"`
	ContactPhone string           `json:"contact_phone,omitempty"`
	Website      string           `json:"website,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
	Programs     []ProgramRequest `json:"programs,omitempty"`
}

func (req LenderRequest) toLender(id string) (*rules.Lender, error) {
	l := &rules.Lender{
		ID:           id,
		Name:         req.Name,
		ShortName:    req.ShortName,
		Description:  req.Description,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Website:      req.Website,
		IsActive:     boolOr(req.IsActive, true),
		Programs:     make([]*rules.LenderProgram, 0, len(req.Programs)),
	}
	for _, pr := range req.Programs {
		p, err := pr.toProgram("")
		if err != nil {
			return nil, err
		}
		l.Programs = append(l.Programs, p)
	}
	return l, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// LendersListResponse is the response for listing lenders
type LendersListResponse struct {
	Lenders []*rules.Lender `json:"lenders"`
}

// ApplicationsListResponse is the response for listing applications
type ApplicationsListResponse struct {
	Applications []*rules.Submission `json:"applications"`
}

// RuleTypesResponse lists what policy rules may use
type RuleTypesResponse struct {
	RuleTypes []rules.RuleTypeInfo `json:"rule_types"`
	Operators []rules.Operator     `json:"operators"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error" example:"lender not found"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status   string          `json:"status" example:"healthy"`
	Store    string          `json:"store" example:"postgres"`
	Lenders  int             `json:"active_lenders"`
	LogLevel string          `json:"log_level" example:"INFO"`
	Counters logger.Counters `json:"counters"`
	Error    string          `json:"error,omitempty"`
}

// LogLevelRequest changes the minimum log level at runtime
type LogLevelRequest struct {
	Level string `json:"level" example:"DEBUG"`
}

// LogLevelResponse reports the minimum log level in effect
type LogLevelResponse struct {
	Level string `json:"level" example:"INFO"`
}
