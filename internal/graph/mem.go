package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a process-local graph store. It carries the full Store
// contract so the activation and consolidation code can run without Neo4j.
type MemStore struct {
	mu        sync.RWMutex
	relations map[string]*Relation
	from      map[string][]string // memory id -> relation ids
	to        map[string][]string
}

// NewMemStore creates an empty in-process graph store.
func NewMemStore() *MemStore {
	return &MemStore{
		relations: make(map[string]*Relation),
		from:      make(map[string][]string),
		to:        make(map[string][]string),
	}
}

// AddRelation inserts one directed edge, clamping strength to [0,1].
func (s *MemStore) AddRelation(_ context.Context, r *Relation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *r
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Strength = ClampStrength(stored.Strength)

	s.relations[stored.ID] = &stored
	s.from[stored.SourceID] = append(s.from[stored.SourceID], stored.ID)
	s.to[stored.TargetID] = append(s.to[stored.TargetID], stored.ID)
	return stored.ID, nil
}

// GetRelation returns a copy of the relation by id.
func (s *MemStore) GetRelation(_ context.Context, id string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[id]
	if !ok {
		return nil, ErrRelationNotFound
	}
	out := *r
	return &out, nil
}

// RelationsFrom returns copies of all outgoing edges of a memory.
func (s *MemStore) RelationsFrom(_ context.Context, memoryID string) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.from[memoryID]), nil
}

// RelationsTo returns copies of all incoming edges of a memory.
func (s *MemStore) RelationsTo(_ context.Context, memoryID string) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.to[memoryID]), nil
}

func (s *MemStore) collect(ids []string) []*Relation {
	out := make([]*Relation, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.relations[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

// UpdateRelation merges the changed fields into an existing edge.
func (s *MemStore) UpdateRelation(_ context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relations[id]
	if !ok {
		return ErrRelationNotFound
	}
	if u.Strength != nil {
		r.Strength = clampUpdateStrength(*u.Strength)
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.LastActivatedAt != nil {
		t := *u.LastActivatedAt
		r.LastActivatedAt = &t
	}
	return nil
}

// TouchActivated refreshes last_activated on the given relations. Unknown
// ids are ignored.
func (s *MemStore) TouchActivated(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.relations[id]; ok {
			t := at
			r.LastActivatedAt = &t
		}
	}
	return nil
}
