package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/lendermatch/rules"
	"github.com/liamcoop/lendermatch/store"
)

// ErrUnderwritingInProgress is returned when an application is already being
// underwritten. It wraps store.ErrConflict.
var ErrUnderwritingInProgress = fmt.Errorf("underwriting already in progress: %w", store.ErrConflict)

// Manager owns lender policy and runs underwriting for stored applications.
// Every policy mutation invalidates the snapshot cache, so the next run sees
// it.
type Manager struct {
	policies store.PolicyStore
	apps     store.ApplicationStore
	results  store.ResultStore
	cache    store.SnapshotCache
	engine   *rules.Engine
	logger   *slog.Logger
	newID    func() string

	mu      sync.Mutex
	running map[string]struct{}
}

// NewManager wires a manager. A nil cache falls back to an in-memory cache
// without expiry; a nil engine to rules.NewEngine().
func NewManager(policies store.PolicyStore, apps store.ApplicationStore, results store.ResultStore,
	cache store.SnapshotCache, engine *rules.Engine, logger *slog.Logger) *Manager {
	if cache == nil {
		cache = store.NewInMemorySnapshotCache(store.DefaultCacheConfig())
	}
	if engine == nil {
		engine = rules.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policies: policies,
		apps:     apps,
		results:  results,
		cache:    cache,
		engine:   engine,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
		running:  make(map[string]struct{}),
	}
}

func (m *Manager) Engine() *rules.Engine { return m.engine }

// RuleTypes lists every rule type policies may use.
func (m *Manager) RuleTypes() []rules.RuleTypeInfo {
	return m.engine.Registry().Describe()
}

// CreateLender validates and stores a lender together with its programs and
// rules. Missing ids are generated.
func (m *Manager) CreateLender(l *rules.Lender) (*rules.Lender, error) {
	if err := ValidateLender(m.engine.Registry(), l); err != nil {
		return nil, err
	}
	l = l.Clone()
	if l.ID == "" {
		l.ID = m.newID()
	}
	for _, p := range l.Programs {
		m.assignProgramIDs(l.ID, p)
	}

	if err := m.policies.AddLender(l); err != nil {
		return nil, fmt.Errorf("failed to add lender %s: %w", l.ID, err)
	}
	m.invalidate("lender created", l.ID)
	return m.policies.GetLender(l.ID)
}

func (m *Manager) assignProgramIDs(lenderID string, p *rules.LenderProgram) {
	if p.ID == "" {
		p.ID = m.newID()
	}
	p.LenderID = lenderID
	for _, r := range p.Rules {
		if r.ID == "" {
			r.ID = m.newID()
		}
		r.ProgramID = p.ID
	}
}

func (m *Manager) GetLender(id string) (*rules.Lender, error) {
	return m.policies.GetLender(id)
}

func (m *Manager) ListLenders() ([]*rules.Lender, error) {
	return m.policies.ListLenders()
}

// UpdateLender replaces lender metadata. Programs on l are ignored; they
// change through the program operations.
func (m *Manager) UpdateLender(l *rules.Lender) (*rules.Lender, error) {
	if l == nil {
		return nil, invalidf("lender", "is required")
	}
	meta := *l
	meta.Programs = nil
	if err := ValidateLender(m.engine.Registry(), &meta); err != nil {
		return nil, err
	}
	if err := m.policies.UpdateLender(&meta); err != nil {
		return nil, fmt.Errorf("failed to update lender %s: %w", l.ID, err)
	}
	m.invalidate("lender updated", l.ID)
	return m.policies.GetLender(l.ID)
}

func (m *Manager) DeleteLender(id string) error {
	if err := m.policies.DeleteLender(id); err != nil {
		return fmt.Errorf("failed to delete lender %s: %w", id, err)
	}
	m.invalidate("lender deleted", id)
	return nil
}

// AddProgram validates and stores a program with its rules under lenderID.
func (m *Manager) AddProgram(lenderID string, p *rules.LenderProgram) (*rules.LenderProgram, error) {
	if err := ValidateProgram(m.engine.Registry(), p); err != nil {
		return nil, err
	}
	p = p.Clone()
	m.assignProgramIDs(lenderID, p)

	if err := m.policies.AddProgram(p); err != nil {
		return nil, fmt.Errorf("failed to add program to lender %s: %w", lenderID, err)
	}
	m.invalidate("program created", p.ID)
	return m.policies.GetProgram(p.ID)
}

func (m *Manager) GetProgram(id string) (*rules.LenderProgram, error) {
	return m.policies.GetProgram(id)
}

// UpdateProgram replaces program settings. Rules on p are ignored.
func (m *Manager) UpdateProgram(p *rules.LenderProgram) (*rules.LenderProgram, error) {
	if p == nil {
		return nil, invalidf("program", "is required")
	}
	settings := p.Clone()
	settings.Rules = nil
	if err := ValidateProgram(m.engine.Registry(), settings); err != nil {
		return nil, err
	}
	if err := m.policies.UpdateProgram(settings); err != nil {
		return nil, fmt.Errorf("failed to update program %s: %w", p.ID, err)
	}
	m.invalidate("program updated", p.ID)
	return m.policies.GetProgram(p.ID)
}

func (m *Manager) DeleteProgram(id string) error {
	if err := m.policies.DeleteProgram(id); err != nil {
		return fmt.Errorf("failed to delete program %s: %w", id, err)
	}
	m.invalidate("program deleted", id)
	return nil
}

// AddRule validates and stores a rule under programID.
func (m *Manager) AddRule(programID string, r *rules.PolicyRule) (*rules.PolicyRule, error) {
	if err := ValidateRule(m.engine.Registry(), r); err != nil {
		return nil, err
	}
	r = r.Clone()
	if r.ID == "" {
		r.ID = m.newID()
	}
	r.ProgramID = programID

	if err := m.policies.AddRule(r); err != nil {
		return nil, fmt.Errorf("failed to add rule to program %s: %w", programID, err)
	}
	m.invalidate("rule created", r.ID)
	return m.policies.GetRule(r.ID)
}

func (m *Manager) GetRule(id string) (*rules.PolicyRule, error) {
	return m.policies.GetRule(id)
}

func (m *Manager) UpdateRule(r *rules.PolicyRule) (*rules.PolicyRule, error) {
	if err := ValidateRule(m.engine.Registry(), r); err != nil {
		return nil, err
	}
	if err := m.policies.UpdateRule(r); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	m.invalidate("rule updated", r.ID)
	return m.policies.GetRule(r.ID)
}

func (m *Manager) DeleteRule(id string) error {
	if err := m.policies.DeleteRule(id); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	m.invalidate("rule deleted", id)
	return nil
}

func (m *Manager) invalidate(event, id string) {
	m.cache.Invalidate()
	m.logger.Debug("policy changed", "event", event, "id", id)
}

// Snapshot returns the active lenders underwriting runs against, from the
// cache when it is fresh.
func (m *Manager) Snapshot() ([]*rules.Lender, error) {
	if lenders := m.cache.Get(); lenders != nil {
		return lenders, nil
	}
	gen := m.cache.Generation()
	lenders, err := m.policies.ListActiveLenders()
	if err != nil {
		return nil, fmt.Errorf("failed to load active lenders: %w", err)
	}
	if !m.cache.Set(gen, lenders) {
		m.logger.Debug("policy changed during snapshot load, not caching", "lenders", len(lenders))
		return lenders, nil
	}
	m.logger.Debug("policy snapshot loaded", "lenders", len(lenders))
	return lenders, nil
}

// CreateApplication stores a submission. A missing id is generated and a
// missing status becomes draft.
func (m *Manager) CreateApplication(sub *rules.Submission) (*rules.Submission, error) {
	if sub == nil {
		return nil, invalidf("application", "is required")
	}
	sub = sub.Clone()
	if sub.Application.ID == "" {
		sub.Application.ID = m.newID()
	}
	switch sub.Application.Status {
	case "":
		sub.Application.Status = rules.ApplicationDraft
	case rules.ApplicationDraft, rules.ApplicationSubmitted:
	default:
		return nil, invalidf("status", "new applications must be draft or submitted, got %q", sub.Application.Status)
	}

	if err := m.apps.AddApplication(sub); err != nil {
		return nil, fmt.Errorf("failed to add application %s: %w", sub.Application.ID, err)
	}
	return m.apps.GetApplication(sub.Application.ID)
}

func (m *Manager) GetApplication(id string) (*rules.Submission, error) {
	return m.apps.GetApplication(id)
}

func (m *Manager) ListApplications() ([]*rules.Submission, error) {
	return m.apps.ListApplications()
}

// DeleteApplication removes an application and any results stored for it.
func (m *Manager) DeleteApplication(id string) error {
	if err := m.results.DeleteResults(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete results for %s: %w", id, err)
	}
	if err := m.apps.DeleteApplication(id); err != nil {
		return fmt.Errorf("failed to delete application %s: %w", id, err)
	}
	return nil
}

// Results returns the latest underwriting results for an application.
func (m *Manager) Results(applicationID string) (*rules.UnderwritingResults, error) {
	return m.results.GetResults(applicationID)
}

// Underwrite evaluates a stored application against the active lender
// snapshot and replaces its stored results. The application moves to
// underwriting, then completed; it is marked failed when its data is too
// incomplete to evaluate.
func (m *Manager) Underwrite(applicationID string) (*rules.UnderwritingResults, error) {
	if !m.begin(applicationID) {
		return nil, ErrUnderwritingInProgress
	}
	defer m.end(applicationID)

	sub, err := m.apps.GetApplication(applicationID)
	if err != nil {
		return nil, err
	}

	lenders, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := m.apps.UpdateStatus(applicationID, rules.ApplicationUnderwriting); err != nil {
		return nil, fmt.Errorf("failed to mark application %s underwriting: %w", applicationID, err)
	}

	results, err := m.engine.Underwrite(sub.Borrower, sub.Application, lenders)
	if err != nil {
		m.logger.Warn("underwriting rejected application", "application_id", applicationID, "error", err)
		m.setStatus(applicationID, rules.ApplicationFailed)
		return nil, err
	}

	if err := m.results.SaveResults(results); err != nil {
		m.setStatus(applicationID, rules.ApplicationFailed)
		return nil, fmt.Errorf("failed to save results for %s: %w", applicationID, err)
	}
	m.setStatus(applicationID, rules.ApplicationCompleted)

	m.logger.Info("application underwritten",
		"application_id", applicationID,
		"lenders", results.TotalLenders,
		"eligible", results.EligibleCount)
	return results, nil
}

func (m *Manager) setStatus(id string, status rules.ApplicationStatus) {
	if err := m.apps.UpdateStatus(id, status); err != nil {
		m.logger.Error("failed to update application status",
			"application_id", id, "status", status, "error", err)
	}
}

func (m *Manager) begin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[id]; busy {
		return false
	}
	m.running[id] = struct{}{}
	return true
}

func (m *Manager) end(id string) {
	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()
}
