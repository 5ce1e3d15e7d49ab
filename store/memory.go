package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/lendermatch/rules"
)

// InMemoryPolicyStore implements PolicyStore with maps guarded by an
// RWMutex. Records are copied on the way in and on the way out.
type InMemoryPolicyStore struct {
	mu       sync.RWMutex
	lenders  map[string]*rules.Lender
	programs map[string]*rules.LenderProgram // points into lenders
	ruleSet  map[string]*rules.PolicyRule    // points into programs
	seq      map[string]int
	next     int
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{
		lenders:  make(map[string]*rules.Lender),
		programs: make(map[string]*rules.LenderProgram),
		ruleSet:  make(map[string]*rules.PolicyRule),
		seq:      make(map[string]int),
	}
}

// AddLender stores l together with any programs and rules it carries.
func (s *InMemoryPolicyStore) AddLender(l *rules.Lender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lenders[l.ID]; exists {
		return fmt.Errorf("lender %s: %w", l.ID, ErrConflict)
	}
	for _, p := range l.Programs {
		if _, exists := s.programs[p.ID]; exists {
			return fmt.Errorf("program %s: %w", p.ID, ErrConflict)
		}
		for _, r := range p.Rules {
			if _, exists := s.ruleSet[r.ID]; exists {
				return fmt.Errorf("rule %s: %w", r.ID, ErrConflict)
			}
		}
	}

	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	for _, p := range l.Programs {
		p.LenderID = l.ID
		p.CreatedAt, p.UpdatedAt = now, now
		for _, r := range p.Rules {
			r.ProgramID = p.ID
			r.CreatedAt, r.UpdatedAt = now, now
		}
	}

	stored := l.Clone()
	s.lenders[stored.ID] = stored
	s.seq[stored.ID] = s.next
	s.next++
	for _, p := range stored.Programs {
		s.programs[p.ID] = p
		for _, r := range p.Rules {
			s.ruleSet[r.ID] = r
		}
	}
	return nil
}

func (s *InMemoryPolicyStore) GetLender(id string) (*rules.Lender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.lenders[id]
	if !exists {
		return nil, fmt.Errorf("lender %s: %w", id, ErrNotFound)
	}
	return l.Clone(), nil
}

func (s *InMemoryPolicyStore) ListLenders() ([]*rules.Lender, error) {
	return s.list(false), nil
}

func (s *InMemoryPolicyStore) ListActiveLenders() ([]*rules.Lender, error) {
	return s.list(true), nil
}

func (s *InMemoryPolicyStore) list(activeOnly bool) []*rules.Lender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rules.Lender, 0, len(s.lenders))
	for _, l := range s.lenders {
		if activeOnly && !l.IsActive {
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

func (s *InMemoryPolicyStore) UpdateLender(l *rules.Lender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.lenders[l.ID]
	if !exists {
		return fmt.Errorf("lender %s: %w", l.ID, ErrNotFound)
	}

	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = time.Now().UTC()

	updated := l.Clone()
	updated.Programs = existing.Programs
	s.lenders[l.ID] = updated
	return nil
}

// DeleteLender removes the lender with its programs and rules.
func (s *InMemoryPolicyStore) DeleteLender(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.lenders[id]
	if !exists {
		return fmt.Errorf("lender %s: %w", id, ErrNotFound)
	}
	for _, p := range l.Programs {
		s.dropProgram(p)
	}
	delete(s.lenders, id)
	delete(s.seq, id)
	return nil
}

func (s *InMemoryPolicyStore) AddProgram(p *rules.LenderProgram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.lenders[p.LenderID]
	if !exists {
		return fmt.Errorf("lender %s: %w", p.LenderID, ErrNotFound)
	}
	if _, exists := s.programs[p.ID]; exists {
		return fmt.Errorf("program %s: %w", p.ID, ErrConflict)
	}
	for _, r := range p.Rules {
		if _, exists := s.ruleSet[r.ID]; exists {
			return fmt.Errorf("rule %s: %w", r.ID, ErrConflict)
		}
	}

	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	for _, r := range p.Rules {
		r.ProgramID = p.ID
		r.CreatedAt, r.UpdatedAt = now, now
	}

	stored := p.Clone()
	l.Programs = append(l.Programs, stored)
	s.programs[stored.ID] = stored
	for _, r := range stored.Rules {
		s.ruleSet[r.ID] = r
	}
	return nil
}

func (s *InMemoryPolicyStore) GetProgram(id string) (*rules.LenderProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.programs[id]
	if !exists {
		return nil, fmt.Errorf("program %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

// UpdateProgram replaces program settings. Its rules and owning lender are
// kept.
func (s *InMemoryPolicyStore) UpdateProgram(p *rules.LenderProgram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.programs[p.ID]
	if !exists {
		return fmt.Errorf("program %s: %w", p.ID, ErrNotFound)
	}

	p.LenderID = existing.LenderID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	rulesKept := existing.Rules
	*existing = *p.Clone()
	existing.Rules = rulesKept
	return nil
}

func (s *InMemoryPolicyStore) DeleteProgram(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.programs[id]
	if !exists {
		return fmt.Errorf("program %s: %w", id, ErrNotFound)
	}
	if l, ok := s.lenders[p.LenderID]; ok {
		l.Programs = removeProgram(l.Programs, id)
	}
	s.dropProgram(p)
	return nil
}

func (s *InMemoryPolicyStore) dropProgram(p *rules.LenderProgram) {
	for _, r := range p.Rules {
		delete(s.ruleSet, r.ID)
	}
	delete(s.programs, p.ID)
}

func (s *InMemoryPolicyStore) AddRule(r *rules.PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.programs[r.ProgramID]
	if !exists {
		return fmt.Errorf("program %s: %w", r.ProgramID, ErrNotFound)
	}
	if _, exists := s.ruleSet[r.ID]; exists {
		return fmt.Errorf("rule %s: %w", r.ID, ErrConflict)
	}

	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	stored := r.Clone()
	p.Rules = append(p.Rules, stored)
	s.ruleSet[stored.ID] = stored
	return nil
}

func (s *InMemoryPolicyStore) GetRule(id string) (*rules.PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.ruleSet[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *InMemoryPolicyStore) UpdateRule(r *rules.PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ruleSet[r.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNotFound)
	}

	r.ProgramID = existing.ProgramID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	*existing = *r.Clone()
	return nil
}

func (s *InMemoryPolicyStore) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.ruleSet[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if p, ok := s.programs[r.ProgramID]; ok {
		kept := p.Rules[:0]
		for _, pr := range p.Rules {
			if pr.ID != id {
				kept = append(kept, pr)
			}
		}
		p.Rules = kept
	}
	delete(s.ruleSet, id)
	return nil
}

func removeProgram(ps []*rules.LenderProgram, id string) []*rules.LenderProgram {
	kept := ps[:0]
	for _, p := range ps {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return kept
}

// InMemoryApplicationStore implements ApplicationStore.
type InMemoryApplicationStore struct {
	mu   sync.RWMutex
	apps map[string]*rules.Submission
	seq  map[string]int
	next int
}

func NewInMemoryApplicationStore() *InMemoryApplicationStore {
	return &InMemoryApplicationStore{
		apps: make(map[string]*rules.Submission),
		seq:  make(map[string]int),
	}
}

func (s *InMemoryApplicationStore) AddApplication(sub *rules.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sub.Application.ID
	if _, exists := s.apps[id]; exists {
		return fmt.Errorf("application %s: %w", id, ErrConflict)
	}

	now := time.Now().UTC()
	sub.Application.CreatedAt, sub.Application.UpdatedAt = now, now
	if sub.Application.Status == "" {
		sub.Application.Status = rules.ApplicationDraft
	}

	s.apps[id] = sub.Clone()
	s.seq[id] = s.next
	s.next++
	return nil
}

func (s *InMemoryApplicationStore) GetApplication(id string) (*rules.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.apps[id]
	if !exists {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return sub.Clone(), nil
}

// ListApplications returns applications newest first.
func (s *InMemoryApplicationStore) ListApplications() ([]*rules.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rules.Submission, 0, len(s.apps))
	for _, sub := range s.apps {
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].Application.ID] > s.seq[out[j].Application.ID]
	})
	return out, nil
}

func (s *InMemoryApplicationStore) UpdateStatus(id string, status rules.ApplicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.apps[id]
	if !exists {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	sub.Application.Status = status
	sub.Application.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryApplicationStore) DeleteApplication(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[id]; !exists {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	delete(s.apps, id)
	delete(s.seq, id)
	return nil
}

// InMemoryResultStore implements ResultStore.
type InMemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*rules.UnderwritingResults
}

func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{results: make(map[string]*rules.UnderwritingResults)}
}

func (s *InMemoryResultStore) SaveResults(r *rules.UnderwritingResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[r.ApplicationID] = r.Clone()
	return nil
}

func (s *InMemoryResultStore) GetResults(applicationID string) (*rules.UnderwritingResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.results[applicationID]
	if !exists {
		return nil, fmt.Errorf("results for application %s: %w", applicationID, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *InMemoryResultStore) DeleteResults(applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, applicationID)
	return nil
}
