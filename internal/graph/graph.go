// Package graph holds the long-term memory relation graph: directed,
// weighted, typed edges between memory item identifiers.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRelationNotFound is returned when a relation id does not exist.
var ErrRelationNotFound = errors.New("graph: relation not found")

// RelationType categorizes the association between two memories.
type RelationType string

const (
	RelationCausal     RelationType = "causal"
	RelationTemporal   RelationType = "temporal"
	RelationSimilarity RelationType = "similarity"
	RelationContrast   RelationType = "contrast"
	RelationPartWhole  RelationType = "part_whole"
	RelationAnalogy    RelationType = "analogy"
	RelationThematic   RelationType = "thematic"
	RelationEmotional  RelationType = "emotional"
)

// Valid reports whether t is a known relation type.
func (t RelationType) Valid() bool {
	switch t {
	case RelationCausal, RelationTemporal, RelationSimilarity, RelationContrast,
		RelationPartWhole, RelationAnalogy, RelationThematic, RelationEmotional:
		return true
	}
	return false
}

// Symmetric reports whether the association reads the same from both ends.
// Symmetric types are stored as a forward and a reverse edge so traversal
// from either endpoint succeeds.
func (t RelationType) Symmetric() bool {
	switch t {
	case RelationSimilarity, RelationThematic, RelationEmotional:
		return true
	}
	return false
}

// MinStrength is the floor below which an edge is retained but never
// traversed. Decay and strengthening never push strength below it; edges
// are weakened, not deleted.
const MinStrength = 0.1

// ClampStrength limits a strength to [0, 1].
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Relation is a directed weighted edge between two memory identifiers.
type Relation struct {
	ID              string       `json:"id"`
	SourceID        string       `json:"source_id"`
	TargetID        string       `json:"target_id"`
	Type            RelationType `json:"type"`
	Strength        float64      `json:"strength"` // 0-1
	Description     string       `json:"description"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActivatedAt *time.Time   `json:"last_activated_at,omitempty"`
}

// Traversable reports whether the edge may be followed during activation
// spreading.
func (r *Relation) Traversable() bool {
	return r.Strength >= MinStrength
}

// Update carries a partial relation update. Nil fields retain their prior
// values. Strength is clamped to [MinStrength, 1] on write so no update can
// push an edge below the traversal floor.
type Update struct {
	Strength        *float64
	Description     *string
	LastActivatedAt *time.Time
}

// Store is the persistence contract for the relation graph. Reads always
// reflect the latest strength and activation values.
type Store interface {
	// AddRelation inserts a single directed edge, clamping strength to [0,1].
	// Most callers should use Add, which also mirrors symmetric types.
	AddRelation(ctx context.Context, r *Relation) (string, error)
	GetRelation(ctx context.Context, id string) (*Relation, error)
	RelationsFrom(ctx context.Context, memoryID string) ([]*Relation, error)
	RelationsTo(ctx context.Context, memoryID string) ([]*Relation, error)
	UpdateRelation(ctx context.Context, id string, u Update) error
	// TouchActivated refreshes last_activated on the given relations.
	TouchActivated(ctx context.Context, ids []string, at time.Time) error
}

// Add inserts a relation, mirroring symmetric types as a reverse edge.
// It returns the ids of all inserted edges (one or two).
func Add(ctx context.Context, s Store, r *Relation) ([]string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Strength = ClampStrength(r.Strength)

	id, err := s.AddRelation(ctx, r)
	if err != nil {
		return nil, err
	}
	ids := []string{id}

	if r.Type.Symmetric() {
		reverse := &Relation{
			ID:          uuid.New().String(),
			SourceID:    r.TargetID,
			TargetID:    r.SourceID,
			Type:        r.Type,
			Strength:    r.Strength,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		}
		rid, err := s.AddRelation(ctx, reverse)
		if err != nil {
			return ids, err
		}
		ids = append(ids, rid)
	}
	return ids, nil
}

func clampUpdateStrength(v float64) float64 {
	if v < MinStrength {
		return MinStrength
	}
	if v > 1 {
		return 1
	}
	return v
}
