package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/lendermatch/rules"
)

var (
	_ PolicyStore      = (*InMemoryPolicyStore)(nil)
	_ PolicyStore      = (*PostgresPolicyStore)(nil)
	_ ApplicationStore = (*InMemoryApplicationStore)(nil)
	_ ApplicationStore = (*PostgresApplicationStore)(nil)
	_ ResultStore      = (*InMemoryResultStore)(nil)
	_ ResultStore      = (*PostgresResultStore)(nil)
	_ SnapshotCache    = (*InMemorySnapshotCache)(nil)
)

func testLender(id string) *rules.Lender {
	return &rules.Lender{
		ID:       id,
		Name:     "Lender " + id,
		IsActive: true,
		Programs: []*rules.LenderProgram{{
			ID:       id + "-prog",
			Name:     "Tier A",
			IsActive: true,
			Rules: []*rules.PolicyRule{{
				ID:         id + "-fico",
				RuleType:   "fico_min",
				Operator:   rules.OpGTE,
				Value:      rules.Int(700),
				IsRequired: true,
				Weight:     1,
				IsActive:   true,
			}},
		}},
	}
}

// TestInMemoryPolicyStoreAddAndGet verifies a lender tree round-trips with parent links set
func TestInMemoryPolicyStoreAddAndGet(t *testing.T) {
	s := NewInMemoryPolicyStore()
	if err := s.AddLender(testLender("falcon")); err != nil {
		t.Fatalf("AddLender() failed: %v", err)
	}

	got, err := s.GetLender("falcon")
	if err != nil {
		t.Fatalf("GetLender() failed: %v", err)
	}
	if len(got.Programs) != 1 || len(got.Programs[0].Rules) != 1 {
		t.Fatalf("expected one program with one rule, got %+v", got)
	}
	p := got.Programs[0]
	if p.LenderID != "falcon" || p.Rules[0].ProgramID != p.ID {
		t.Errorf("parent links not set: lender_id=%q program_id=%q", p.LenderID, p.Rules[0].ProgramID)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on add")
	}

	r, err := s.GetRule("falcon-fico")
	if err != nil {
		t.Fatalf("GetRule() failed: %v", err)
	}
	if !r.Value.Equal(rules.Int(700)) {
		t.Errorf("unexpected rule value %s", r.Value)
	}
}

// TestInMemoryPolicyStoreConflicts verifies duplicate IDs are rejected at every level
func TestInMemoryPolicyStoreConflicts(t *testing.T) {
	s := NewInMemoryPolicyStore()
	if err := s.AddLender(testLender("falcon")); err != nil {
		t.Fatalf("AddLender() failed: %v", err)
	}

	if err := s.AddLender(testLender("falcon")); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate lender: expected ErrConflict, got %v", err)
	}

	dupProgram := &rules.LenderProgram{ID: "falcon-prog", LenderID: "falcon", Name: "again"}
	if err := s.AddProgram(dupProgram); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate program: expected ErrConflict, got %v", err)
	}

	dupRule := &rules.PolicyRule{ID: "falcon-fico", ProgramID: "falcon-prog", RuleType: "fico_min"}
	if err := s.AddRule(dupRule); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate rule: expected ErrConflict, got %v", err)
	}

	orphan := &rules.PolicyRule{ID: "orphan", ProgramID: "missing", RuleType: "fico_min"}
	if err := s.AddRule(orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan rule: expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryPolicyStoreCopies verifies callers cannot mutate stored policy
func TestInMemoryPolicyStoreCopies(t *testing.T) {
	s := NewInMemoryPolicyStore()
	l := testLender("falcon")
	if err := s.AddLender(l); err != nil {
		t.Fatalf("AddLender() failed: %v", err)
	}

	l.Programs[0].Rules[0].Value = rules.Int(500)
	got, _ := s.GetLender("falcon")
	got.Programs[0].Name = "mutated"

	again, _ := s.GetLender("falcon")
	if !again.Programs[0].Rules[0].Value.Equal(rules.Int(700)) {
		t.Error("store changed through the added pointer")
	}
	if again.Programs[0].Name != "Tier A" {
		t.Error("store changed through a returned pointer")
	}
}

// TestInMemoryPolicyStoreUpdates verifies updates keep children and creation time
func TestInMemoryPolicyStoreUpdates(t *testing.T) {
	s := NewInMemoryPolicyStore()
	if err := s.AddLender(testLender("falcon")); err != nil {
		t.Fatalf("AddLender() failed: %v", err)
	}
	before, _ := s.GetLender("falcon")

	if err := s.UpdateLender(&rules.Lender{ID: "falcon", Name: "Falcon Equipment Finance", IsActive: true}); err != nil {
		t.Fatalf("UpdateLender() failed: %v", err)
	}
	maxAmount := decimal.NewFromInt(250000)
	if err := s.UpdateProgram(&rules.LenderProgram{ID: "falcon-prog", Name: "Tier A+", MaxLoanAmount: &maxAmount, IsActive: true}); err != nil {
		t.Fatalf("UpdateProgram() failed: %v", err)
	}
	if err := s.UpdateRule(&rules.PolicyRule{ID: "falcon-fico", RuleType: "fico_min", Operator: rules.OpGTE, Value: rules.Int(720), IsActive: true}); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	after, _ := s.GetLender("falcon")
	if after.Name != "Falcon Equipment Finance" || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("unexpected lender after update: %+v", after)
	}
	if len(after.Programs) != 1 || after.Programs[0].Name != "Tier A+" || after.Programs[0].LenderID != "falcon" {
		t.Fatalf("program update lost data: %+v", after.Programs)
	}
	rs := after.Programs[0].Rules
	if len(rs) != 1 || !rs[0].Value.Equal(rules.Int(720)) || rs[0].ProgramID != "falcon-prog" {
		t.Errorf("rule update lost data: %+v", rs)
	}

	if err := s.UpdateRule(&rules.PolicyRule{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryPolicyStoreDeletes verifies cascading deletes
func TestInMemoryPolicyStoreDeletes(t *testing.T) {
	s := NewInMemoryPolicyStore()
	if err := s.AddLender(testLender("falcon")); err != nil {
		t.Fatalf("AddLender() failed: %v", err)
	}

	if err := s.DeleteRule("falcon-fico"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	p, _ := s.GetProgram("falcon-prog")
	if len(p.Rules) != 0 {
		t.Errorf("rule should be gone from its program, got %d", len(p.Rules))
	}

	if err := s.DeleteLender("falcon"); err != nil {
		t.Fatalf("DeleteLender() failed: %v", err)
	}
	if _, err := s.GetProgram("falcon-prog"); !errors.Is(err, ErrNotFound) {
		t.Errorf("program should be deleted with its lender, got %v", err)
	}
	if err := s.DeleteLender("falcon"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryPolicyStoreListOrder verifies creation order and the active filter
func TestInMemoryPolicyStoreListOrder(t *testing.T) {
	s := NewInMemoryPolicyStore()
	for _, id := range []string{"c", "a", "b"} {
		l := testLender(id)
		l.IsActive = id != "a"
		if err := s.AddLender(l); err != nil {
			t.Fatalf("AddLender(%s) failed: %v", id, err)
		}
	}

	all, _ := s.ListLenders()
	if len(all) != 3 || all[0].ID != "c" || all[1].ID != "a" || all[2].ID != "b" {
		t.Errorf("unexpected order: %v", ids(all))
	}
	active, _ := s.ListActiveLenders()
	if len(active) != 2 || active[0].ID != "c" || active[1].ID != "b" {
		t.Errorf("unexpected active lenders: %v", ids(active))
	}
}

// TestInMemoryPolicyStoreConcurrentAccess verifies concurrent reads and writes are safe
func TestInMemoryPolicyStoreConcurrentAccess(t *testing.T) {
	s := NewInMemoryPolicyStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := s.AddLender(testLender(fmt.Sprintf("l%d", i))); err != nil {
				t.Errorf("AddLender() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := s.ListActiveLenders(); err != nil {
				t.Errorf("ListActiveLenders() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := s.ListLenders()
	if len(all) != 20 {
		t.Errorf("expected 20 lenders, got %d", len(all))
	}
}

// TestInMemoryApplicationStore verifies submission storage and status updates
func TestInMemoryApplicationStore(t *testing.T) {
	s := NewInMemoryApplicationStore()
	fico := 720
	sub := &rules.Submission{
		Borrower: rules.Borrower{
			BusinessName: "Lone Star Hauling",
			State:        "TX",
			Guarantors:   []rules.Guarantor{{FirstName: "Dana", FICOScore: &fico}},
		},
		Application: rules.LoanApplication{ID: "app-1", EquipmentType: "Truck"},
	}
	if err := s.AddApplication(sub); err != nil {
		t.Fatalf("AddApplication() failed: %v", err)
	}
	if err := s.AddApplication(sub); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	fico = 500
	got, err := s.GetApplication("app-1")
	if err != nil {
		t.Fatalf("GetApplication() failed: %v", err)
	}
	if got.Application.Status != rules.ApplicationDraft {
		t.Errorf("new applications should be drafts, got %s", got.Application.Status)
	}
	if *got.Borrower.Guarantors[0].FICOScore != 720 {
		t.Error("stored submission shares pointers with the caller")
	}

	if err := s.UpdateStatus("app-1", rules.ApplicationCompleted); err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
	got, _ = s.GetApplication("app-1")
	if got.Application.Status != rules.ApplicationCompleted {
		t.Errorf("expected completed, got %s", got.Application.Status)
	}

	second := &rules.Submission{Application: rules.LoanApplication{ID: "app-2", EquipmentType: "Excavator"}}
	if err := s.AddApplication(second); err != nil {
		t.Fatalf("AddApplication() failed: %v", err)
	}
	list, _ := s.ListApplications()
	if len(list) != 2 || list[0].Application.ID != "app-2" {
		t.Errorf("expected newest first, got %d items", len(list))
	}

	if err := s.DeleteApplication("app-1"); err != nil {
		t.Fatalf("DeleteApplication() failed: %v", err)
	}
	if _, err := s.GetApplication("app-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryResultStoreReplaces verifies saving results replaces the previous run
func TestInMemoryResultStoreReplaces(t *testing.T) {
	s := NewInMemoryResultStore()
	if _, err := s.GetResults("app-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := &rules.UnderwritingResults{ApplicationID: "app-1", TotalLenders: 1, Results: []rules.MatchResult{{LenderID: "a"}}}
	second := &rules.UnderwritingResults{ApplicationID: "app-1", TotalLenders: 2, Results: []rules.MatchResult{{LenderID: "a"}, {LenderID: "b"}}}
	if err := s.SaveResults(first); err != nil {
		t.Fatalf("SaveResults() failed: %v", err)
	}
	if err := s.SaveResults(second); err != nil {
		t.Fatalf("SaveResults() failed: %v", err)
	}

	got, err := s.GetResults("app-1")
	if err != nil {
		t.Fatalf("GetResults() failed: %v", err)
	}
	if got.TotalLenders != 2 || len(got.Results) != 2 {
		t.Errorf("expected the latest run, got %+v", got)
	}

	got.Results[0].LenderID = "mutated"
	again, _ := s.GetResults("app-1")
	if again.Results[0].LenderID != "a" {
		t.Error("stored results changed through a returned pointer")
	}
}

func ids(ls []*rules.Lender) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}
