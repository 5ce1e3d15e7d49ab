package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/lendermatch/rules"
)

// PostgresApplicationStore implements ApplicationStore. The borrower and the
// application are stored as JSONB documents; status and timestamps live in
// their own columns.
type PostgresApplicationStore struct {
	db *sql.DB
}

func NewPostgresApplicationStore(db *sql.DB) *PostgresApplicationStore {
	return &PostgresApplicationStore{db: db}
}

func (s *PostgresApplicationStore) AddApplication(sub *rules.Submission) error {
	now := time.Now().UTC()
	sub.Application.CreatedAt, sub.Application.UpdatedAt = now, now
	if sub.Application.Status == "" {
		sub.Application.Status = rules.ApplicationDraft
	}

	borrower, err := json.Marshal(sub.Borrower)
	if err != nil {
		return fmt.Errorf("failed to encode borrower: %w", err)
	}
	application, err := json.Marshal(sub.Application)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO applications (id, borrower, application, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.Application.ID, borrower, application, string(sub.Application.Status), now, now)
	if err != nil {
		return translate(err, "failed to insert application "+sub.Application.ID)
	}
	return nil
}

const selectApplication = `
	SELECT borrower, application, status, created_at, updated_at
	FROM applications`

func (s *PostgresApplicationStore) GetApplication(id string) (*rules.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(selectApplication+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListApplications returns applications newest first.
func (s *PostgresApplicationStore) ListApplications() ([]*rules.Submission, error) {
	rows, err := s.db.Query(selectApplication + ` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	out := []*rules.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*rules.Submission, error) {
	var (
		sub                   rules.Submission
		borrower, application []byte
		status                string
		createdAt, updatedAt  time.Time
	)
	if err := row.Scan(&borrower, &application, &status, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan application: %w", err)
	}
	if err := json.Unmarshal(borrower, &sub.Borrower); err != nil {
		return nil, fmt.Errorf("failed to decode borrower: %w", err)
	}
	if err := json.Unmarshal(application, &sub.Application); err != nil {
		return nil, fmt.Errorf("failed to decode application: %w", err)
	}
	sub.Application.Status = rules.ApplicationStatus(status)
	sub.Application.CreatedAt = createdAt
	sub.Application.UpdatedAt = updatedAt
	return &sub, nil
}

func (s *PostgresApplicationStore) UpdateStatus(id string, status rules.ApplicationStatus) error {
	result, err := s.db.Exec(`
		UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	return requireRow(result, "application", id)
}

func (s *PostgresApplicationStore) DeleteApplication(id string) error {
	result, err := s.db.Exec(`DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	return requireRow(result, "application", id)
}

// PostgresResultStore implements ResultStore with one JSONB document per
// application.
type PostgresResultStore struct {
	db *sql.DB
}

func NewPostgresResultStore(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

func (s *PostgresResultStore) SaveResults(r *rules.UnderwritingResults) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	var best sql.NullString
	if r.BestMatch != nil {
		best = sql.NullString{String: r.BestMatch.LenderID, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO match_results (application_id, results, eligible_count, best_lender_id, evaluated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (application_id) DO UPDATE
		SET results = EXCLUDED.results,
			eligible_count = EXCLUDED.eligible_count,
			best_lender_id = EXCLUDED.best_lender_id,
			evaluated_at = EXCLUDED.evaluated_at
	`, r.ApplicationID, doc, r.EligibleCount, best, r.EvaluatedAt)
	if err != nil {
		return translate(err, "failed to save results for application "+r.ApplicationID)
	}
	return nil
}

func (s *PostgresResultStore) GetResults(applicationID string) (*rules.UnderwritingResults, error) {
	var doc []byte
	err := s.db.QueryRow(`
		SELECT results FROM match_results WHERE application_id = $1
	`, applicationID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("results for application %s: %w", applicationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	var out rules.UnderwritingResults
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &out, nil
}

func (s *PostgresResultStore) DeleteResults(applicationID string) error {
	if _, err := s.db.Exec(`DELETE FROM match_results WHERE application_id = $1`, applicationID); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}
	return nil
}
