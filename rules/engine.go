package rules

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Observer receives the outcome of every underwriting run. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveUnderwriting(results *UnderwritingResults, elapsed time.Duration)
	ObserveLenderFailure(lenderID string)
}

// Engine matches an application against a set of lenders. It holds no
// per-run state and may be shared across goroutines.
type Engine struct {
	registry *Registry
	scorer   Scorer
	matcher  *Matcher
	workers  int
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithRegistry(r *Registry) Option {
	return func(en *Engine) { en.registry = r }
}

func WithSoftBonusCap(n int) Option {
	return func(en *Engine) { en.scorer = NewScorer(n) }
}

// WithWorkers bounds how many lenders are evaluated at once. Values below one
// select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(en *Engine) { en.workers = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

func WithObserver(o Observer) Option {
	return func(en *Engine) { en.observer = o }
}

// WithClock sets the clock BuildContext is anchored to.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

func NewEngine(opts ...Option) *Engine {
	en := &Engine{
		scorer: NewScorer(DefaultSoftBonusCap),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.registry == nil {
		en.registry = DefaultRegistry()
	}
	if en.logger == nil {
		en.logger = slog.Default()
	}
	if en.workers < 1 {
		en.workers = runtime.GOMAXPROCS(0)
	}
	en.matcher = NewMatcher(en.registry, en.scorer, en.logger)
	return en
}

func (en *Engine) Registry() *Registry { return en.registry }
func (en *Engine) Matcher() *Matcher   { return en.matcher }

// Underwrite builds the context for a submission and matches it against
// lenders. The only error is a *ContextError.
func (en *Engine) Underwrite(borrower Borrower, app LoanApplication, lenders []*Lender) (*UnderwritingResults, error) {
	evalCtx, err := BuildContext(borrower, app, en.now().UTC())
	if err != nil {
		return nil, err
	}
	return en.MatchContext(evalCtx, lenders), nil
}

// MatchContext evaluates every active lender against evalCtx. Results are
// ordered eligible first, then by fit score, then by position in lenders;
// the same inputs always yield the same output.
func (en *Engine) MatchContext(evalCtx *EvaluationContext, lenders []*Lender) *UnderwritingResults {
	start := time.Now()

	active := make([]*Lender, 0, len(lenders))
	for _, l := range lenders {
		if l != nil && l.IsActive {
			active = append(active, l)
		}
	}

	results := make([]MatchResult, len(active))
	var g errgroup.Group
	g.SetLimit(en.workers)
	for i, lender := range active {
		g.Go(func() error {
			results[i] = en.matchLender(evalCtx, lender)
			return nil
		})
	}
	// matchLender recovers its own panics, so no goroutine returns an error.
	g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].IsEligible != results[j].IsEligible {
			return results[i].IsEligible
		}
		return results[i].FitScore > results[j].FitScore
	})

	out := &UnderwritingResults{
		ApplicationID: evalCtx.ApplicationID(),
		Status:        StatusCompleted,
		TotalLenders:  len(results),
		Results:       results,
		EvaluatedAt:   evalCtx.AsOf(),
	}
	for i := range results {
		if results[i].IsEligible {
			out.EligibleCount++
		}
	}
	out.IneligibleCount = out.TotalLenders - out.EligibleCount
	if len(results) > 0 && results[0].IsEligible {
		best := results[0]
		out.BestMatch = &best
	}

	elapsed := time.Since(start)
	en.logger.Debug("underwriting complete",
		"application_id", out.ApplicationID,
		"lenders", out.TotalLenders,
		"eligible", out.EligibleCount,
		"duration_ms", elapsed.Milliseconds(),
	)
	if en.observer != nil {
		en.observer.ObserveUnderwriting(out, elapsed)
	}
	return out
}

// matchLender isolates one lender: a panic becomes an ineligible result.
func (en *Engine) matchLender(evalCtx *EvaluationContext, lender *Lender) (res MatchResult) {
	defer func() {
		if r := recover(); r != nil {
			en.logger.Error("lender evaluation failed",
				"lender", describeLender(lender),
				"application_id", evalCtx.ApplicationID(),
				"panic", fmt.Sprint(r),
			)
			if en.observer != nil {
				en.observer.ObserveLenderFailure(lender.ID)
			}
			res = en.matcher.withoutProgram(
				MatchResult{LenderID: lender.ID, LenderName: lender.Name},
				fmt.Sprintf("Lender could not be evaluated: %v", r),
			)
		}
	}()
	return en.matcher.Match(evalCtx, lender)
}
