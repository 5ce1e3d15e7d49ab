package store

import (
	"errors"

	"github.com/liamcoop/lendermatch/rules"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when adding a record whose ID is taken.
	ErrConflict = errors.New("already exists")
)

// PolicyStore manages lenders and the programs and rules they own. Reads
// return complete trees: a lender carries its programs, each program its
// rules, inactive ones included.
type PolicyStore interface {
	AddLender(l *rules.Lender) error
	GetLender(id string) (*rules.Lender, error)
	// ListLenders returns every lender in creation order.
	ListLenders() ([]*rules.Lender, error)
	// ListActiveLenders returns active lenders in creation order, the
	// snapshot underwriting runs against.
	ListActiveLenders() ([]*rules.Lender, error)
	// UpdateLender replaces lender metadata. Programs are left alone.
	UpdateLender(l *rules.Lender) error
	DeleteLender(id string) error

	AddProgram(p *rules.LenderProgram) error
	GetProgram(id string) (*rules.LenderProgram, error)
	UpdateProgram(p *rules.LenderProgram) error
	DeleteProgram(id string) error

	AddRule(r *rules.PolicyRule) error
	GetRule(id string) (*rules.PolicyRule, error)
	UpdateRule(r *rules.PolicyRule) error
	DeleteRule(id string) error
}

// ApplicationStore persists submitted applications with their borrower.
type ApplicationStore interface {
	AddApplication(s *rules.Submission) error
	GetApplication(id string) (*rules.Submission, error)
	ListApplications() ([]*rules.Submission, error)
	UpdateStatus(id string, status rules.ApplicationStatus) error
	DeleteApplication(id string) error
}

// ResultStore keeps the latest underwriting results per application.
type ResultStore interface {
	// SaveResults replaces any earlier results for the same application.
	SaveResults(r *rules.UnderwritingResults) error
	GetResults(applicationID string) (*rules.UnderwritingResults, error)
	DeleteResults(applicationID string) error
}
