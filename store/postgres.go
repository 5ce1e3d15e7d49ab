package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/lendermatch/rules"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresPolicyStore implements PolicyStore backed by PostgreSQL.
type PostgresPolicyStore struct {
	db *sql.DB
}

func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

// translate maps constraint violations onto the store sentinels.
func translate(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w", what, ErrConflict)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: parent %w", what, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// AddLender inserts the lender and any programs and rules it carries in one
// transaction.
func (s *PostgresPolicyStore) AddLender(l *rules.Lender) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	_, err = tx.Exec(`
		INSERT INTO lenders (id, name, short_name, description, contact_name, contact_email,
			contact_phone, website, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.ID, l.Name, l.ShortName, l.Description, l.ContactName, l.ContactEmail,
		l.ContactPhone, l.Website, l.IsActive, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return translate(err, "failed to insert lender "+l.ID)
	}

	for _, p := range l.Programs {
		p.LenderID = l.ID
		if err := insertProgram(tx, p, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lender %s: %w", l.ID, err)
	}
	return nil
}

func insertProgram(ex execer, p *rules.LenderProgram, now time.Time) error {
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := ex.Exec(`
		INSERT INTO lender_programs (id, lender_id, name, description, credit_tier,
			min_loan_amount, max_loan_amount, max_term_months, is_app_only, priority,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.LenderID, p.Name, p.Description, string(p.CreditTier),
		nullDecimal(p.MinLoanAmount), nullDecimal(p.MaxLoanAmount), nullInt(p.MaxTermMonths),
		p.IsAppOnly, p.Priority, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate(err, "failed to insert program "+p.ID)
	}

	for _, r := range p.Rules {
		r.ProgramID = p.ID
		if err := insertRule(ex, r, now); err != nil {
			return err
		}
	}
	return nil
}

func insertRule(ex execer, r *rules.PolicyRule, now time.Time) error {
	value, err := encodeRuleValue(r.Value)
	if err != nil {
		return err
	}
	r.CreatedAt, r.UpdatedAt = now, now
	_, err = ex.Exec(`
		INSERT INTO policy_rules (id, program_id, rule_type, operator, value, description,
			rejection_message, is_required, weight, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.ProgramID, r.RuleType, string(r.Operator), value, r.Description,
		r.RejectionMessage, r.IsRequired, r.Weight, r.Priority, r.IsActive, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return translate(err, "failed to insert rule "+r.ID)
	}
	return nil
}

func (s *PostgresPolicyStore) GetLender(id string) (*rules.Lender, error) {
	lenders, err := s.loadLenders(`WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(lenders) == 0 {
		return nil, fmt.Errorf("lender %s: %w", id, ErrNotFound)
	}
	return lenders[0], nil
}

func (s *PostgresPolicyStore) ListLenders() ([]*rules.Lender, error) {
	return s.loadLenders(``)
}

func (s *PostgresPolicyStore) ListActiveLenders() ([]*rules.Lender, error) {
	return s.loadLenders(`WHERE is_active = true`)
}

// loadLenders reads matching lenders, then their programs and rules, and
// assembles the trees. Order is creation time, ID breaking ties.
func (s *PostgresPolicyStore) loadLenders(where string, args ...any) ([]*rules.Lender, error) {
	rows, err := s.db.Query(`
		SELECT id, name, short_name, description, contact_name, contact_email,
			contact_phone, website, is_active, created_at, updated_at
		FROM lenders `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lenders: %w", err)
	}
	defer rows.Close()

	var lenders []*rules.Lender
	byID := make(map[string]*rules.Lender)
	for rows.Next() {
		l := &rules.Lender{Programs: []*rules.LenderProgram{}}
		if err := rows.Scan(&l.ID, &l.Name, &l.ShortName, &l.Description, &l.ContactName,
			&l.ContactEmail, &l.ContactPhone, &l.Website, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lender: %w", err)
		}
		lenders = append(lenders, l)
		byID[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lenders: %w", err)
	}
	if len(lenders) == 0 {
		return []*rules.Lender{}, nil
	}

	ids := make([]string, 0, len(lenders))
	for _, l := range lenders {
		ids = append(ids, l.ID)
	}
	programs, err := s.loadPrograms(`WHERE lender_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, p := range programs {
		if l, ok := byID[p.LenderID]; ok {
			l.Programs = append(l.Programs, p)
		}
	}
	return lenders, nil
}

func (s *PostgresPolicyStore) loadPrograms(where string, args ...any) ([]*rules.LenderProgram, error) {
	rows, err := s.db.Query(`
		SELECT id, lender_id, name, description, credit_tier, min_loan_amount, max_loan_amount,
			max_term_months, is_app_only, priority, is_active, created_at, updated_at
		FROM lender_programs `+where+`
		ORDER BY priority ASC, created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var programs []*rules.LenderProgram
	byID := make(map[string]*rules.LenderProgram)
	for rows.Next() {
		p := &rules.LenderProgram{Rules: []*rules.PolicyRule{}}
		var (
			tier      string
			minAmount decimal.NullDecimal
			maxAmount decimal.NullDecimal
			maxTerm   sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.LenderID, &p.Name, &p.Description, &tier, &minAmount,
			&maxAmount, &maxTerm, &p.IsAppOnly, &p.Priority, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		p.CreditTier = rules.CreditTier(tier)
		p.MinLoanAmount = decimalPtr(minAmount)
		p.MaxLoanAmount = decimalPtr(maxAmount)
		if maxTerm.Valid {
			n := int(maxTerm.Int64)
			p.MaxTermMonths = &n
		}
		programs = append(programs, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating programs: %w", err)
	}
	if len(programs) == 0 {
		return programs, nil
	}

	ids := make([]string, 0, len(programs))
	for _, p := range programs {
		ids = append(ids, p.ID)
	}
	ruleRows, err := s.loadRules(`WHERE program_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, r := range ruleRows {
		if p, ok := byID[r.ProgramID]; ok {
			p.Rules = append(p.Rules, r)
		}
	}
	return programs, nil
}

func (s *PostgresPolicyStore) loadRules(where string, args ...any) ([]*rules.PolicyRule, error) {
	rows, err := s.db.Query(`
		SELECT id, program_id, rule_type, operator, value, description, rejection_message,
			is_required, weight, priority, is_active, created_at, updated_at
		FROM policy_rules `+where+`
		ORDER BY priority ASC, created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.PolicyRule
	for rows.Next() {
		var (
			r   rules.PolicyRule
			op  string
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.ProgramID, &r.RuleType, &op, &raw, &r.Description,
			&r.RejectionMessage, &r.IsRequired, &r.Weight, &r.Priority, &r.IsActive,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Operator = rules.Operator(op)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Value); err != nil {
				return nil, fmt.Errorf("failed to decode value of rule %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

func (s *PostgresPolicyStore) UpdateLender(l *rules.Lender) error {
	l.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE lenders
		SET name = $1, short_name = $2, description = $3, contact_name = $4, contact_email = $5,
			contact_phone = $6, website = $7, is_active = $8, updated_at = $9
		WHERE id = $10
	`, l.Name, l.ShortName, l.Description, l.ContactName, l.ContactEmail,
		l.ContactPhone, l.Website, l.IsActive, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update lender: %w", err)
	}
	return requireRow(result, "lender", l.ID)
}

func (s *PostgresPolicyStore) DeleteLender(id string) error {
	result, err := s.db.Exec(`DELETE FROM lenders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lender: %w", err)
	}
	return requireRow(result, "lender", id)
}

func (s *PostgresPolicyStore) AddProgram(p *rules.LenderProgram) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertProgram(tx, p, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit program %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresPolicyStore) GetProgram(id string) (*rules.LenderProgram, error) {
	programs, err := s.loadPrograms(`WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(programs) == 0 {
		return nil, fmt.Errorf("program %s: %w", id, ErrNotFound)
	}
	return programs[0], nil
}

func (s *PostgresPolicyStore) UpdateProgram(p *rules.LenderProgram) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE lender_programs
		SET name = $1, description = $2, credit_tier = $3, min_loan_amount = $4,
			max_loan_amount = $5, max_term_months = $6, is_app_only = $7, priority = $8,
			is_active = $9, updated_at = $10
		WHERE id = $11
	`, p.Name, p.Description, string(p.CreditTier), nullDecimal(p.MinLoanAmount),
		nullDecimal(p.MaxLoanAmount), nullInt(p.MaxTermMonths), p.IsAppOnly, p.Priority,
		p.IsActive, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update program: %w", err)
	}
	return requireRow(result, "program", p.ID)
}

func (s *PostgresPolicyStore) DeleteProgram(id string) error {
	result, err := s.db.Exec(`DELETE FROM lender_programs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	return requireRow(result, "program", id)
}

func (s *PostgresPolicyStore) AddRule(r *rules.PolicyRule) error {
	return insertRule(s.db, r, time.Now().UTC())
}

func (s *PostgresPolicyStore) GetRule(id string) (*rules.PolicyRule, error) {
	out, err := s.loadRules(`WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return out[0], nil
}

func (s *PostgresPolicyStore) UpdateRule(r *rules.PolicyRule) error {
	value, err := encodeRuleValue(r.Value)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE policy_rules
		SET rule_type = $1, operator = $2, value = $3, description = $4, rejection_message = $5,
			is_required = $6, weight = $7, priority = $8, is_active = $9, updated_at = $10
		WHERE id = $11
	`, r.RuleType, string(r.Operator), value, r.Description, r.RejectionMessage,
		r.IsRequired, r.Weight, r.Priority, r.IsActive, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRow(result, "rule", r.ID)
}

func (s *PostgresPolicyStore) DeleteRule(id string) error {
	result, err := s.db.Exec(`DELETE FROM policy_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(result, "rule", id)
}

// encodeRuleValue stores values in the {"value": x} wrapper. Unknown values
// are stored as NULL.
func encodeRuleValue(v rules.Value) (any, error) {
	if v.IsUnknown() {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]rules.Value{"value": v})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule value: %w", err)
	}
	return raw, nil
}

func requireRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
