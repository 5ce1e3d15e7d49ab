package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/liamcoop/lendermatch/rules"
)

// ErrInvalid marks policy that fails validation. Every *ValidationError
// unwraps to it.
var ErrInvalid = errors.New("invalid policy")

const (
	maxNameLength        = 200
	maxDescriptionLength = 1000
	maxMessageLength     = 500
	maxRuleWeight        = 100
	maxProgramsPerLender = 50
	maxRulesPerProgram   = 200
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-. ]{7,25}$`)
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateLender checks lender metadata and, when present, every program
// and rule beneath it.
func ValidateLender(reg *rules.Registry, l *rules.Lender) error {
	if l == nil {
		return invalidf("lender", "is required")
	}
	if err := validateText("name", l.Name, maxNameLength, true); err != nil {
		return err
	}
	if err := validateText("short_name", l.ShortName, maxNameLength, false); err != nil {
		return err
	}
	if err := validateText("description", l.Description, maxDescriptionLength, false); err != nil {
		return err
	}
	if l.ContactEmail != "" && !emailPattern.MatchString(l.ContactEmail) {
		return invalidf("contact_email", "%q is not an email address", l.ContactEmail)
	}
	if l.ContactPhone != "" && !phonePattern.MatchString(l.ContactPhone) {
		return invalidf("contact_phone", "%q is not a phone number", l.ContactPhone)
	}
	if l.Website != "" && !strings.HasPrefix(l.Website, "http://") && !strings.HasPrefix(l.Website, "https://") {
		return invalidf("website", "must start with http:// or https://")
	}

	if len(l.Programs) > maxProgramsPerLender {
		return invalidf("programs", "lender has %d programs (maximum %d)", len(l.Programs), maxProgramsPerLender)
	}
	for i, p := range l.Programs {
		if err := ValidateProgram(reg, p); err != nil {
			return fmt.Errorf("programs[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateProgram checks a program's bounds and every rule in it.
func ValidateProgram(reg *rules.Registry, p *rules.LenderProgram) error {
	if p == nil {
		return invalidf("program", "is required")
	}
	if err := validateText("name", p.Name, maxNameLength, true); err != nil {
		return err
	}
	if err := validateText("description", p.Description, maxDescriptionLength, false); err != nil {
		return err
	}

	switch p.CreditTier {
	case "", rules.TierA, rules.TierB, rules.TierC, rules.TierD:
	default:
		return invalidf("credit_tier", "%q is not one of A, B, C, D", p.CreditTier)
	}

	if p.MinLoanAmount != nil && p.MinLoanAmount.IsNegative() {
		return invalidf("min_loan_amount", "must not be negative")
	}
	if p.MaxLoanAmount != nil && !p.MaxLoanAmount.IsPositive() {
		return invalidf("max_loan_amount", "must be positive")
	}
	if p.MinLoanAmount != nil && p.MaxLoanAmount != nil && p.MinLoanAmount.GreaterThan(*p.MaxLoanAmount) {
		return invalidf("min_loan_amount", "%s exceeds max_loan_amount %s", p.MinLoanAmount, p.MaxLoanAmount)
	}
	if p.MaxTermMonths != nil && *p.MaxTermMonths <= 0 {
		return invalidf("max_term_months", "must be positive")
	}
	if p.Priority < 0 {
		return invalidf("priority", "must not be negative")
	}

	if len(p.Rules) > maxRulesPerProgram {
		return invalidf("rules", "program has %d rules (maximum %d)", len(p.Rules), maxRulesPerProgram)
	}
	for i, r := range p.Rules {
		if err := ValidateRule(reg, r); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateRule checks that a rule can be evaluated: its type is registered,
// its operator is known and its value has the shape the operator needs.
// Custom expressions must compile.
func ValidateRule(reg *rules.Registry, r *rules.PolicyRule) error {
	if r == nil {
		return invalidf("rule", "is required")
	}
	if strings.TrimSpace(r.RuleType) == "" {
		return invalidf("rule_type", "is required")
	}
	ev, err := reg.Lookup(r.RuleType)
	if err != nil {
		return &ValidationError{Field: "rule_type", Message: err.Error()}
	}
	if r.Operator != "" && !r.Operator.Valid() {
		return invalidf("operator", "%q is not a supported operator", r.Operator)
	}
	if r.Weight < 0 || r.Weight > maxRuleWeight {
		return invalidf("weight", "must be between 0 and %d", maxRuleWeight)
	}
	if r.Priority < 0 {
		return invalidf("priority", "must not be negative")
	}
	if err := validateText("description", r.Description, maxDescriptionLength, false); err != nil {
		return err
	}
	if err := validateText("rejection_message", r.RejectionMessage, maxMessageLength, false); err != nil {
		return err
	}
	if !r.Value.IsValid() {
		return invalidf("value", "%s is not a number, text, boolean or list", r.Value)
	}

	switch e := ev.(type) {
	case *rules.ExpressionEvaluator:
		src, ok := r.Value.Str()
		if !ok || strings.TrimSpace(src) == "" {
			return invalidf("value", "custom expression must be a non-empty string")
		}
		if _, err := e.Compile(src); err != nil {
			return &ValidationError{Field: "value", Message: err.Error()}
		}
	case rules.FactEvaluator:
		op, value := r.Operator, r.Value
		if op == "" {
			op = e.Operator
		}
		if value.IsUnknown() {
			value = e.Default
		}
		// An unknown actual skips the comparison and only checks the rule side.
		if _, err := rules.Compare(op, rules.Unknown(), value); err != nil {
			var cmpErr *rules.ComparatorError
			if errors.As(err, &cmpErr) {
				return invalidf("value", "%s", cmpErr.Reason)
			}
			return &ValidationError{Field: "value", Message: err.Error()}
		}
	}
	return nil
}

func validateText(field, s string, max int, required bool) error {
	if required && strings.TrimSpace(s) == "" {
		return invalidf(field, "is required")
	}
	if n := utf8.RuneCountInString(s); n > max {
		return invalidf(field, "is %d characters (maximum %d)", n, max)
	}
	return nil
}
