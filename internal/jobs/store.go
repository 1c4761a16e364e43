package jobs

import (
	"sort"
	"sync"
)

// Store keeps the run history.
type Store interface {
	Create(run *Run) error
	Update(run *Run) error
	Get(id string) (*Run, bool)
	// List returns the most recent runs first.
	List(limit int) ([]Run, error)
}

type InMemoryStore struct {
	data sync.Map
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(run *Run) error {
	cp := *run
	s.data.Store(run.ID, &cp)
	return nil
}

func (s *InMemoryStore) Update(run *Run) error {
	cp := *run
	s.data.Store(run.ID, &cp)
	return nil
}

func (s *InMemoryStore) Get(id string) (*Run, bool) {
	if v, ok := s.data.Load(id); ok {
		cp := *v.(*Run)
		return &cp, true
	}
	return nil, false
}

func (s *InMemoryStore) List(limit int) ([]Run, error) {
	var runs []Run
	s.data.Range(func(_, v any) bool {
		runs = append(runs, *v.(*Run))
		return true
	})
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
