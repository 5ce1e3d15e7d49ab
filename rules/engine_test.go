package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu       sync.Mutex
	runs     int
	failures []string
}

func (o *recordingObserver) ObserveUnderwriting(*UnderwritingResults, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}

func (o *recordingObserver) ObserveLenderFailure(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, id)
}

// panicHandler is a slog handler that panics on every record.
type panicHandler struct{}

func (panicHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (panicHandler) Handle(context.Context, slog.Record) error { panic("log sink down") }
func (h panicHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h panicHandler) WithGroup(string) slog.Handler           { return h }

func testEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testAsOf })}, opts...)
	return NewEngine(opts...)
}

// marketLenders returns lenders with different outcomes for the sample
// application: ineligible, eligible at 75, eligible at 100, and inactive.
func marketLenders() []*Lender {
	strict := lender("strict", program("strict-a", 1, rule("f", "fico_min", OpGTE, Int(760))))
	partial := lender("partial", program("partial-a", 1,
		append(standardRules(), soft(rule("s", "tib_min", OpGTE, Int(10)), 1))...))
	clean := lender("clean", program("clean-a", 1, standardRules()...))
	dormant := lender("dormant", program("dormant-a", 1, standardRules()...))
	dormant.IsActive = false
	return []*Lender{strict, partial, clean, dormant}
}

// TestUnderwriteEligibleApplication verifies FICO 720, PayNet 700 in TX is eligible
func TestUnderwriteEligibleApplication(t *testing.T) {
	b, a := sampleSubmission()
	out, err := testEngine().Underwrite(b, a, []*Lender{lender("falcon", program("falcon-a", 1, standardRules()...))})
	if err != nil {
		t.Fatalf("Underwrite failed: %v", err)
	}

	if out.ApplicationID != "app-1" || out.Status != StatusCompleted {
		t.Errorf("unexpected header: %s %s", out.ApplicationID, out.Status)
	}
	if out.EligibleCount != 1 || out.BestMatch == nil || out.BestMatch.LenderID != "falcon" {
		t.Fatalf("expected falcon as best match, got %+v", out.BestMatch)
	}
	if !out.EvaluatedAt.Equal(testAsOf) {
		t.Errorf("evaluated_at should come from the engine clock, got %v", out.EvaluatedAt)
	}
}

// TestUnderwriteContextError verifies incomplete applications are rejected before matching
func TestUnderwriteContextError(t *testing.T) {
	b, a := sampleSubmission()
	a.AmountRequested = nil
	a.EquipmentType = ""

	out, err := testEngine().Underwrite(b, a, marketLenders())
	if !errors.Is(err, ErrContext) {
		t.Fatalf("expected ErrContext, got %v", err)
	}
	if out != nil {
		t.Error("no results should be returned with a context error")
	}
}

// TestMatchContextOrdering verifies eligible first, then score, and the best match
func TestMatchContextOrdering(t *testing.T) {
	out := testEngine().MatchContext(sampleContext(), marketLenders())

	if out.TotalLenders != 3 {
		t.Fatalf("inactive lenders should be skipped, got %d", out.TotalLenders)
	}
	if out.EligibleCount != 2 || out.IneligibleCount != 1 {
		t.Errorf("unexpected counts: %d eligible, %d ineligible", out.EligibleCount, out.IneligibleCount)
	}

	var order []string
	for _, r := range out.Results {
		order = append(order, r.LenderID)
	}
	if strings.Join(order, ",") != "clean,partial,strict" {
		t.Errorf("unexpected order %v", order)
	}
	if out.BestMatch == nil || out.BestMatch.LenderID != "clean" || out.BestMatch.FitScore != 100 {
		t.Errorf("unexpected best match %+v", out.BestMatch)
	}
}

// TestMatchContextTiesKeepInputOrder verifies equal scores keep lender order
func TestMatchContextTiesKeepInputOrder(t *testing.T) {
	var lenders []*Lender
	for _, id := range []string{"l1", "l2", "l3", "l4", "l5"} {
		lenders = append(lenders, lender(id, program(id+"-p", 1, standardRules()...)))
	}

	out := testEngine(WithWorkers(4)).MatchContext(sampleContext(), lenders)
	for i, r := range out.Results {
		if r.LenderID != lenders[i].ID {
			t.Fatalf("position %d: got %s, want %s", i, r.LenderID, lenders[i].ID)
		}
	}
	if out.BestMatch.LenderID != "l1" {
		t.Errorf("best match should be the first lender, got %s", out.BestMatch.LenderID)
	}
}

// TestMatchContextNoEligibleLenders verifies best_match is omitted when nobody qualifies
func TestMatchContextNoEligibleLenders(t *testing.T) {
	out := testEngine().MatchContext(sampleContext(), marketLenders()[:1])
	if out.BestMatch != nil {
		t.Errorf("expected no best match, got %+v", out.BestMatch)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(raw), "best_match") {
		t.Errorf("best_match should be omitted: %s", raw)
	}

	empty := testEngine().MatchContext(sampleContext(), nil)
	if empty.TotalLenders != 0 || empty.Results == nil {
		t.Errorf("empty run should report zero lenders with an empty list: %+v", empty)
	}
}

// TestMatchContextDeterministic verifies identical output regardless of worker count
func TestMatchContextDeterministic(t *testing.T) {
	ctx := sampleContext()
	var first []byte
	for _, workers := range []int{1, 2, 8, 1} {
		out := testEngine(WithWorkers(workers)).MatchContext(ctx, marketLenders())
		raw, err := json.Marshal(out)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if first == nil {
			first = raw
			continue
		}
		if string(raw) != string(first) {
			t.Fatalf("output differs with %d workers:\n%s\n%s", workers, first, raw)
		}
	}
}

// TestMatchContextIsolatesLenderFailure verifies one failing lender does not affect the others
func TestMatchContextIsolatesLenderFailure(t *testing.T) {
	obs := &recordingObserver{}
	en := testEngine(WithObserver(obs), WithWorkers(3))
	// A logger that panics escapes rule-level recovery, so the whole lender fails.
	reg := DefaultRegistry().With("explodes", panicEvaluator{})
	en.matcher = NewMatcher(reg, en.scorer, slog.New(panicHandler{}))

	broken := lender("broken", program("broken-a", 1, rule("x", "explodes", OpGTE, Int(1))))
	healthy := lender("healthy", program("healthy-a", 1, standardRules()...))

	out := en.MatchContext(sampleContext(), []*Lender{broken, healthy})
	if out.TotalLenders != 2 || out.EligibleCount != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.BestMatch == nil || out.BestMatch.LenderID != "healthy" {
		t.Errorf("healthy lender should still match, got %+v", out.BestMatch)
	}

	failed := out.Results[1]
	if failed.LenderID != "broken" || failed.IsEligible {
		t.Fatalf("expected broken lender last and ineligible, got %+v", failed)
	}
	if !strings.HasPrefix(failed.Reason, "Lender could not be evaluated") {
		t.Errorf("unexpected reason %q", failed.Reason)
	}
	if len(obs.failures) != 1 || obs.failures[0] != "broken" || obs.runs != 1 {
		t.Errorf("observer saw failures=%v runs=%d", obs.failures, obs.runs)
	}
}

// TestEngineConcurrentUse verifies one engine can serve many runs at once
func TestEngineConcurrentUse(t *testing.T) {
	en := testEngine()
	b, a := sampleSubmission()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := en.Underwrite(b, a, marketLenders())
			if err != nil {
				t.Errorf("Underwrite failed: %v", err)
				return
			}
			if out.EligibleCount != 2 {
				t.Errorf("expected 2 eligible, got %d", out.EligibleCount)
			}
		}()
	}
	wg.Wait()
}

type fixedEvaluator struct{ verdict Verdict }

func (e fixedEvaluator) Evaluate(_ *EvaluationContext, rule *PolicyRule) (EvaluationResult, error) {
	return EvaluationResult{
		RuleType:   rule.RuleType,
		RuleID:     rule.ID,
		Verdict:    e.verdict,
		Passed:     e.verdict == VerdictPass,
		IsRequired: rule.IsRequired,
		Weight:     rule.Weight,
		Reason:     "fixed " + e.verdict.String(),
	}, nil
}

// TestUnderwriteWithRegistry verifies an engine evaluates rule types from its own registry
func TestUnderwriteWithRegistry(t *testing.T) {
	reg := DefaultRegistry().With("watchlist_clear", fixedEvaluator{verdict: VerdictFail})
	b, a := sampleSubmission()
	lenders := []*Lender{lender("falcon", program("falcon-a", 1,
		append(standardRules(), rule("w", "watchlist_clear", OpEQ, Bool(true)))...))}

	out, err := testEngine(WithRegistry(reg)).Underwrite(b, a, lenders)
	if err != nil {
		t.Fatalf("Underwrite failed: %v", err)
	}
	if out.EligibleCount != 0 {
		t.Fatalf("custom failing rule should block eligibility, got %d eligible", out.EligibleCount)
	}

	out, err = testEngine().Underwrite(b, a, lenders)
	if err != nil {
		t.Fatalf("Underwrite failed: %v", err)
	}
	if out.EligibleCount != 0 {
		t.Fatalf("unregistered rule type should fail closed, got %d eligible", out.EligibleCount)
	}
	found := false
	for _, d := range out.Results[0].EvaluationDetails.Details {
		if d.RuleType == "watchlist_clear" && d.Verdict == VerdictError {
			found = true
		}
	}
	if !found {
		t.Error("expected an error verdict for the unregistered rule type")
	}
}
