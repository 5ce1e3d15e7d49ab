package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/lendermatch/rules"
	"github.com/liamcoop/lendermatch/store"
)

// seedFile is the YAML layout of a lender policy seed:
//
//	lenders:
//	  - id: falcon
//	    name: Falcon Equipment Finance
//	    programs:
//	      - name: Tier A
//	        max_loan_amount: 500000
//	        rules:
//	          - rule_type: fico_min
//	            value: 700
type seedFile struct {
	Lenders []seedLender `yaml:"lenders"`
}

type seedLender struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	ShortName    string        `yaml:"short_name"`
	Description  string        `yaml:"description"`
	ContactName  string        `yaml:"contact_name"`
	ContactEmail string        `yaml:"contact_email"`
	ContactPhone string        `yaml:"contact_phone"`
	Website      string        `yaml:"website"`
	Active       *bool         `yaml:"is_active"`
	Programs     []seedProgram `yaml:"programs"`
}

type seedProgram struct {
	ID            string     `yaml:"id"`
	Name          string     `yaml:"name"`
	Description   string     `yaml:"description"`
	CreditTier    string     `yaml:"credit_tier"`
	MinLoanAmount any        `yaml:"min_loan_amount"`
	MaxLoanAmount any        `yaml:"max_loan_amount"`
	MaxTermMonths *int       `yaml:"max_term_months"`
	AppOnly       bool       `yaml:"is_app_only"`
	Priority      int        `yaml:"priority"`
	Active        *bool      `yaml:"is_active"`
	Rules         []seedRule `yaml:"rules"`
}

type seedRule struct {
	ID               string `yaml:"id"`
	RuleType         string `yaml:"rule_type"`
	Operator         string `yaml:"operator"`
	Value            any    `yaml:"value"`
	Description      string `yaml:"description"`
	RejectionMessage string `yaml:"rejection_message"`
	Required         *bool  `yaml:"is_required"`
	Weight           *int   `yaml:"weight"`
	Priority         int    `yaml:"priority"`
	Active           *bool  `yaml:"is_active"`
}

// LoadSeedFile reads lender policies from a YAML file.
func LoadSeedFile(path string) ([]*rules.Lender, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	lenders, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lenders, nil
}

// ParseSeed decodes lender policies. Flags default to true when omitted:
// lenders, programs and rules are active and rules are required with weight 1.
func ParseSeed(data []byte) ([]*rules.Lender, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	lenders := make([]*rules.Lender, 0, len(f.Lenders))
	for i, sl := range f.Lenders {
		l := &rules.Lender{
			ID:           sl.ID,
			Name:         sl.Name,
			ShortName:    sl.ShortName,
			Description:  sl.Description,
			ContactName:  sl.ContactName,
			ContactEmail: sl.ContactEmail,
			ContactPhone: sl.ContactPhone,
			Website:      sl.Website,
			IsActive:     orTrue(sl.Active),
			Programs:     make([]*rules.LenderProgram, 0, len(sl.Programs)),
		}
		for j, sp := range sl.Programs {
			p, err := sp.program()
			if err != nil {
				return nil, fmt.Errorf("lenders[%d].programs[%d]: %w", i, j, err)
			}
			l.Programs = append(l.Programs, p)
		}
		lenders = append(lenders, l)
	}
	return lenders, nil
}

func (sp seedProgram) program() (*rules.LenderProgram, error) {
	minAmount, err := seedDecimal("min_loan_amount", sp.MinLoanAmount)
	if err != nil {
		return nil, err
	}
	maxAmount, err := seedDecimal("max_loan_amount", sp.MaxLoanAmount)
	if err != nil {
		return nil, err
	}

	p := &rules.LenderProgram{
		ID:            sp.ID,
		Name:          sp.Name,
		Description:   sp.Description,
		CreditTier:    rules.CreditTier(sp.CreditTier),
		MinLoanAmount: minAmount,
		MaxLoanAmount: maxAmount,
		MaxTermMonths: sp.MaxTermMonths,
		IsAppOnly:     sp.AppOnly,
		Priority:      sp.Priority,
		IsActive:      orTrue(sp.Active),
		Rules:         make([]*rules.PolicyRule, 0, len(sp.Rules)),
	}
	for k, sr := range sp.Rules {
		r, err := sr.rule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", k, err)
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

func (sr seedRule) rule() (*rules.PolicyRule, error) {
	var op rules.Operator
	if sr.Operator != "" {
		parsed, err := rules.ParseOperator(sr.Operator)
		if err != nil {
			return nil, invalidf("operator", "%v", err)
		}
		op = parsed
	}
	weight := 1
	if sr.Weight != nil {
		weight = *sr.Weight
	}
	return &rules.PolicyRule{
		ID:               sr.ID,
		RuleType:         sr.RuleType,
		Operator:         op,
		Value:            rules.ValueOf(sr.Value),
		Description:      sr.Description,
		RejectionMessage: sr.RejectionMessage,
		IsRequired:       orTrue(sr.Required),
		Weight:           weight,
		Priority:         sr.Priority,
		IsActive:         orTrue(sr.Active),
	}, nil
}

func seedDecimal(field string, x any) (*decimal.Decimal, error) {
	if x == nil {
		return nil, nil
	}
	d, ok := rules.ValueOf(x).Decimal()
	if !ok {
		return nil, invalidf(field, "%v is not a number", x)
	}
	return &d, nil
}

func orTrue(b *bool) bool {
	return b == nil || *b
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Created int
	Skipped int
}

// Seed creates each lender that does not exist yet. Lenders with an id that
// is already stored are skipped, so seeding the same file twice is harmless.
func (m *Manager) Seed(lenders []*rules.Lender) (SeedResult, error) {
	var res SeedResult
	for _, l := range lenders {
		if l.ID != "" {
			if _, err := m.policies.GetLender(l.ID); err == nil {
				res.Skipped++
				m.logger.Info("seed lender exists, skipping", "lender_id", l.ID, "name", l.Name)
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return res, err
			}
		}
		created, err := m.CreateLender(l)
		if err != nil {
			return res, fmt.Errorf("failed to seed lender %q: %w", l.Name, err)
		}
		res.Created++
		m.logger.Info("seeded lender", "lender_id", created.ID, "name", created.Name, "programs", len(created.Programs))
	}
	return res, nil
}
