package graph

import (
	"context"
	"testing"
	"time"
)

func TestAddRelationClampsStrength(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id, err := s.AddRelation(ctx, &Relation{
		SourceID: "a", TargetID: "b", Type: RelationCausal, Strength: 1.7,
	})
	if err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}
	r, err := s.GetRelation(ctx, id)
	if err != nil {
		t.Fatalf("GetRelation failed: %v", err)
	}
	if r.Strength != 1.0 {
		t.Fatalf("got strength %v, want 1.0", r.Strength)
	}

	id, _ = s.AddRelation(ctx, &Relation{
		SourceID: "a", TargetID: "c", Type: RelationCausal, Strength: -0.4,
	})
	r, _ = s.GetRelation(ctx, id)
	if r.Strength != 0 {
		t.Fatalf("got strength %v, want 0", r.Strength)
	}
}

func TestAddMirrorsSymmetricTypes(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ids, err := Add(ctx, s, &Relation{
		SourceID: "a", TargetID: "b", Type: RelationSimilarity, Strength: 0.8,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2 for a symmetric type", len(ids))
	}

	from, _ := s.RelationsFrom(ctx, "b")
	if len(from) != 1 {
		t.Fatalf("got %d reverse edges, want 1", len(from))
	}
	if from[0].TargetID != "a" || from[0].Strength != 0.8 || from[0].Type != RelationSimilarity {
		t.Fatalf("reverse edge wrong: %+v", from[0])
	}
}

func TestAddDirectionalTypeSingleEdge(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ids, err := Add(ctx, s, &Relation{
		SourceID: "a", TargetID: "b", Type: RelationCausal, Strength: 0.6,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d ids, want 1 for a directional type", len(ids))
	}
	from, _ := s.RelationsFrom(ctx, "b")
	if len(from) != 0 {
		t.Fatalf("directional type grew a reverse edge: %+v", from)
	}
}

func TestUpdateRelationPartial(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id, _ := s.AddRelation(ctx, &Relation{
		SourceID: "a", TargetID: "b", Type: RelationThematic,
		Strength: 0.5, Description: "original",
	})

	strength := 0.9
	if err := s.UpdateRelation(ctx, id, Update{Strength: &strength}); err != nil {
		t.Fatalf("UpdateRelation failed: %v", err)
	}
	r, _ := s.GetRelation(ctx, id)
	if r.Strength != 0.9 {
		t.Fatalf("got strength %v, want 0.9", r.Strength)
	}
	if r.Description != "original" {
		t.Fatalf("description changed on a strength-only update: %q", r.Description)
	}
}

func TestUpdateRelationEnforcesFloor(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id, _ := s.AddRelation(ctx, &Relation{
		SourceID: "a", TargetID: "b", Type: RelationCausal, Strength: 0.5,
	})

	tiny := 0.01
	if err := s.UpdateRelation(ctx, id, Update{Strength: &tiny}); err != nil {
		t.Fatalf("UpdateRelation failed: %v", err)
	}
	r, _ := s.GetRelation(ctx, id)
	if r.Strength != MinStrength {
		t.Fatalf("got strength %v, want floor %v", r.Strength, MinStrength)
	}
	if r.Traversable() != true {
		t.Fatal("an edge at the floor must remain traversable")
	}
}

func TestUpdateRelationNotFound(t *testing.T) {
	s := NewMemStore()
	strength := 0.5
	if err := s.UpdateRelation(context.Background(), "nope", Update{Strength: &strength}); err != ErrRelationNotFound {
		t.Fatalf("got %v, want ErrRelationNotFound", err)
	}
}

func TestTouchActivated(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id1, _ := s.AddRelation(ctx, &Relation{SourceID: "a", TargetID: "b", Type: RelationCausal, Strength: 0.5})
	id2, _ := s.AddRelation(ctx, &Relation{SourceID: "b", TargetID: "c", Type: RelationCausal, Strength: 0.5})

	at := time.Now()
	if err := s.TouchActivated(ctx, []string{id1, "unknown"}, at); err != nil {
		t.Fatalf("TouchActivated failed: %v", err)
	}

	r1, _ := s.GetRelation(ctx, id1)
	if r1.LastActivatedAt == nil || !r1.LastActivatedAt.Equal(at) {
		t.Fatalf("got %v, want last activated %v", r1.LastActivatedAt, at)
	}
	r2, _ := s.GetRelation(ctx, id2)
	if r2.LastActivatedAt != nil {
		t.Fatalf("untouched relation got activated: %v", r2.LastActivatedAt)
	}
}

func TestRelationsFromReturnsCopies(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	s.AddRelation(ctx, &Relation{SourceID: "a", TargetID: "b", Type: RelationCausal, Strength: 0.5})

	out, _ := s.RelationsFrom(ctx, "a")
	out[0].Strength = 0.99

	again, _ := s.RelationsFrom(ctx, "a")
	if again[0].Strength != 0.5 {
		t.Fatalf("stored relation mutated through returned copy: %v", again[0].Strength)
	}
}

func TestRelationTypeValidity(t *testing.T) {
	for _, typ := range []RelationType{
		RelationCausal, RelationTemporal, RelationSimilarity, RelationContrast,
		RelationPartWhole, RelationAnalogy, RelationThematic, RelationEmotional,
	} {
		if !typ.Valid() {
			t.Fatalf("%s reported invalid", typ)
		}
	}
	if RelationType("made_up").Valid() {
		t.Fatal("unknown type reported valid")
	}

	symmetric := map[RelationType]bool{
		RelationSimilarity: true, RelationThematic: true, RelationEmotional: true,
	}
	for _, typ := range []RelationType{
		RelationCausal, RelationTemporal, RelationSimilarity, RelationContrast,
		RelationPartWhole, RelationAnalogy, RelationThematic, RelationEmotional,
	} {
		if typ.Symmetric() != symmetric[typ] {
			t.Fatalf("%s: got symmetric=%v, want %v", typ, typ.Symmetric(), symmetric[typ])
		}
	}
}
