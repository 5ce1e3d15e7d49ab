//go:build integration

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/lendermatch/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "lendermatch_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/lendermatch_test?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}
	return db, cleanup
}

func TestPostgresPolicyStore_LenderTree(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresPolicyStore(db)
	maxAmount := decimal.NewFromInt(250000)
	term := 60
	lenderID := uuid.New().String()
	l := &rules.Lender{
		ID:       lenderID,
		Name:     "Falcon Equipment Finance",
		IsActive: true,
		Programs: []*rules.LenderProgram{{
			ID:            uuid.New().String(),
			Name:          "Tier A",
			CreditTier:    rules.TierA,
			MaxLoanAmount: &maxAmount,
			MaxTermMonths: &term,
			IsActive:      true,
			Rules: []*rules.PolicyRule{
				{ID: uuid.New().String(), RuleType: "fico_min", Operator: rules.OpGTE, Value: rules.Int(680), IsRequired: true, Weight: 1, IsActive: true},
				{ID: uuid.New().String(), RuleType: "state_exclude", Operator: rules.OpNotIn, Value: rules.Texts("CA", "NV"), IsRequired: true, Weight: 1, Priority: 1, IsActive: true},
			},
		}},
	}
	if err := s.AddLender(l); err != nil {
		t.Fatalf("AddLender failed: %v", err)
	}

	got, err := s.GetLender(lenderID)
	if err != nil {
		t.Fatalf("GetLender failed: %v", err)
	}
	if len(got.Programs) != 1 {
		t.Fatalf("expected 1 program, got %d", len(got.Programs))
	}
	p := got.Programs[0]
	if p.MaxLoanAmount == nil || !p.MaxLoanAmount.Equal(maxAmount) || p.MinLoanAmount != nil {
		t.Errorf("unexpected amount bounds: %v / %v", p.MinLoanAmount, p.MaxLoanAmount)
	}
	if p.MaxTermMonths == nil || *p.MaxTermMonths != 60 {
		t.Errorf("unexpected max term: %v", p.MaxTermMonths)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(p.Rules))
	}
	if !p.Rules[0].Value.Equal(rules.Int(680)) {
		t.Errorf("numeric rule value did not round-trip: %s", p.Rules[0].Value)
	}
	if !p.Rules[1].Value.Equal(rules.Texts("CA", "NV")) {
		t.Errorf("list rule value did not round-trip: %s", p.Rules[1].Value)
	}

	if err := s.AddLender(l); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate lender, got %v", err)
	}
}

func TestPostgresPolicyStore_CascadingDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresPolicyStore(db)
	l := &rules.Lender{ID: "cascade", Name: "Cascade", IsActive: true}
	if err := s.AddLender(l); err != nil {
		t.Fatalf("AddLender failed: %v", err)
	}
	p := &rules.LenderProgram{ID: "cascade-p", LenderID: "cascade", Name: "Only", IsActive: true}
	if err := s.AddProgram(p); err != nil {
		t.Fatalf("AddProgram failed: %v", err)
	}
	r := &rules.PolicyRule{ID: "cascade-r", ProgramID: "cascade-p", RuleType: "no_startups", IsRequired: true, Weight: 1, IsActive: true}
	if err := s.AddRule(r); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	got, err := s.GetRule("cascade-r")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if !got.Value.IsUnknown() {
		t.Errorf("rule without a value should read back unknown, got %s", got.Value)
	}

	if err := s.DeleteLender("cascade"); err != nil {
		t.Fatalf("DeleteLender failed: %v", err)
	}
	if _, err := s.GetRule("cascade-r"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rule should be deleted with its lender, got %v", err)
	}

	orphan := &rules.LenderProgram{ID: "orphan", LenderID: "missing", Name: "Orphan"}
	if err := s.AddProgram(orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing lender, got %v", err)
	}
}

func TestPostgresPolicyStore_ActiveSnapshot(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresPolicyStore(db)
	for i, active := range []bool{true, false, true} {
		l := &rules.Lender{ID: fmt.Sprintf("l%d", i), Name: fmt.Sprintf("Lender %d", i), IsActive: active}
		if err := s.AddLender(l); err != nil {
			t.Fatalf("AddLender failed: %v", err)
		}
	}

	active, err := s.ListActiveLenders()
	if err != nil {
		t.Fatalf("ListActiveLenders failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "l0" || active[1].ID != "l2" {
		t.Errorf("unexpected snapshot: %v", ids(active))
	}

	if err := s.UpdateLender(&rules.Lender{ID: "l1", Name: "Lender 1", IsActive: true}); err != nil {
		t.Fatalf("UpdateLender failed: %v", err)
	}
	all, _ := s.ListActiveLenders()
	if len(all) != 3 {
		t.Errorf("expected 3 active lenders after update, got %d", len(all))
	}
}

func TestPostgresApplicationAndResults(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	apps := NewPostgresApplicationStore(db)
	results := NewPostgresResultStore(db)

	fico := 720
	amount := decimal.NewFromInt(85000)
	sub := &rules.Submission{
		Borrower: rules.Borrower{
			BusinessName: "Lone Star Hauling",
			State:        "TX",
			Guarantors:   []rules.Guarantor{{FirstName: "Dana", OwnershipPercentage: decimal.NewFromInt(100), FICOScore: &fico}},
		},
		Application: rules.LoanApplication{ID: "app-1", AmountRequested: &amount, EquipmentType: "Truck"},
	}
	if err := apps.AddApplication(sub); err != nil {
		t.Fatalf("AddApplication failed: %v", err)
	}

	got, err := apps.GetApplication("app-1")
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if got.Application.Status != rules.ApplicationDraft || *got.Borrower.Guarantors[0].FICOScore != 720 {
		t.Errorf("unexpected submission: %+v", got)
	}
	if !got.Application.AmountRequested.Equal(amount) {
		t.Errorf("amount did not round-trip: %v", got.Application.AmountRequested)
	}

	if err := apps.UpdateStatus("app-1", rules.ApplicationCompleted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	run := &rules.UnderwritingResults{
		ApplicationID: "app-1",
		Status:        rules.StatusCompleted,
		TotalLenders:  1,
		EligibleCount: 1,
		Results:       []rules.MatchResult{{LenderID: "falcon", IsEligible: true, FitScore: 100}},
		EvaluatedAt:   time.Now().UTC(),
	}
	run.BestMatch = &run.Results[0]
	if err := results.SaveResults(run); err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}
	run.EligibleCount = 0
	run.BestMatch = nil
	run.Results[0].IsEligible = false
	if err := results.SaveResults(run); err != nil {
		t.Fatalf("SaveResults (replace) failed: %v", err)
	}

	stored, err := results.GetResults("app-1")
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if stored.EligibleCount != 0 || stored.BestMatch != nil {
		t.Errorf("expected the replaced run, got %+v", stored)
	}

	if err := apps.DeleteApplication("app-1"); err != nil {
		t.Fatalf("DeleteApplication failed: %v", err)
	}
	if _, err := results.GetResults("app-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("results should be deleted with the application, got %v", err)
	}
}
