package store

import (
	"context"
	"sync"

	"github.com/trackvault/api/internal/model"
)

// MemoryStore is an in-process JobStore used by tests and single-node
// development runs without Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*model.Job
	owners map[string]*model.Owner
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*model.Job),
		owners: make(map[string]*model.Owner),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	s.jobs[id] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) SetTerminal(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Stage.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	cp := *job
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	s.jobs[id] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *owner
	return &cp, nil
}

func (s *MemoryStore) PutOwner(ctx context.Context, owner *model.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *owner
	s.owners[owner.ID] = &cp
	return nil
}
