package memory

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure SessionStore implements the interface.
var _ driven.SessionStore = (*SessionStore)(nil)

// shardCount is the number of shards plans and their writer locks are spread over.
const shardCount = 32

// SessionStore is the in-memory registry of loaded plans.
// Plans live in shards keyed by id; readers and writers of one shard never
// contend with those of another, and writers for one id serialise on that id's lock.
type SessionStore struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.RWMutex
	plans map[string]*domain.Plan
	locks map[string]*planLock
}

type planLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	s := &SessionStore{}
	for i := range s.shards {
		s.shards[i].plans = make(map[string]*domain.Plan)
		s.shards[i].locks = make(map[string]*planLock)
	}
	return s
}

func (s *SessionStore) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%shardCount]
}

// Register adds or replaces the plan under plan.ID.
func (s *SessionStore) Register(plan *domain.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("%w: plan id is required", domain.ErrInvalidArgument)
	}
	sh := s.shardFor(plan.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.plans[plan.ID] = plan
	return nil
}

// Get returns the plan with the given id.
func (s *SessionStore) Get(id string) (*domain.Plan, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	plan, ok := sh.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", domain.ErrNotFound, id)
	}
	return plan, nil
}

// List returns summaries of all loaded plans, oldest first.
func (s *SessionStore) List() []domain.PlanSummary {
	var out []domain.PlanSummary
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, p := range sh.plans {
			out = append(out, p.Summary())
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []domain.PlanSummary{}
	}
	return out
}

// Evict removes the plan with the given id.
func (s *SessionStore) Evict(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.plans[id]; !ok {
		return fmt.Errorf("%w: plan %q", domain.ErrNotFound, id)
	}
	delete(sh.plans, id)
	return nil
}

// Clear removes every plan and reports how many were loaded.
// Shards are emptied one at a time, so a concurrent Register may survive it.
func (s *SessionStore) Clear() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.plans)
		sh.plans = make(map[string]*domain.Plan)
		sh.mu.Unlock()
	}
	return n
}

// Len returns the number of loaded plans.
func (s *SessionStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.plans)
		sh.mu.RUnlock()
	}
	return n
}

// Lock acquires the writer lock of one plan id and returns its release func.
// Lock entries are dropped once no caller holds or waits on them.
func (s *SessionStore) Lock(id string) func() {
	sh := s.shardFor(id)

	sh.mu.Lock()
	pl, ok := sh.locks[id]
	if !ok {
		pl = &planLock{}
		sh.locks[id] = pl
	}
	pl.refs++
	sh.mu.Unlock()

	pl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.mu.Unlock()
			sh.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(sh.locks, id)
			}
			sh.mu.Unlock()
		})
	}
}
