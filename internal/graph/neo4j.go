package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jStore persists the relation graph in Neo4j. Memory items live
// elsewhere; here they are bare :Memory nodes keyed by id, connected by
// :RELATES edges carrying type, strength and activation timestamps. Every
// operation is a single Cypher statement, so a logical write is one atomic
// store operation.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a Neo4j-backed graph store.
func NewNeo4jStore(uri, user, password string, logger *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jStore{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// AddRelation inserts one directed edge, creating endpoint nodes as needed.
func (s *Neo4jStore) AddRelation(ctx context.Context, r *Relation) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Strength = ClampStrength(r.Strength)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Memory {id: $src})
		 MERGE (b:Memory {id: $dst})
		 CREATE (a)-[r:RELATES {
			id: $id, type: $type, strength: $strength,
			description: $desc, created_at: $created
		 }]->(b)`,
		map[string]any{
			"src":      r.SourceID,
			"dst":      r.TargetID,
			"id":       r.ID,
			"type":     string(r.Type),
			"strength": r.Strength,
			"desc":     r.Description,
			"created":  r.CreatedAt,
		})
	if err != nil {
		return "", fmt.Errorf("add relation: %w", err)
	}

	s.logger.Debug("relation added",
		zap.String("id", r.ID),
		zap.String("type", string(r.Type)),
		zap.Float64("strength", r.Strength))
	return r.ID, nil
}

// GetRelation returns a relation by id.
func (s *Neo4jStore) GetRelation(ctx context.Context, id string) (*Relation, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Memory)-[r:RELATES {id: $id}]->(b:Memory)
		 RETURN r.id AS id, a.id AS src, b.id AS dst, r.type AS type,
		        r.strength AS strength, r.description AS desc,
		        r.created_at AS created, r.last_activated AS activated`,
		map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get relation: %w", err)
	}
	if !result.Next(ctx) {
		return nil, ErrRelationNotFound
	}
	return relationFromRecord(result.Record()), nil
}

// RelationsFrom returns all outgoing edges of a memory.
func (s *Neo4jStore) RelationsFrom(ctx context.Context, memoryID string) ([]*Relation, error) {
	return s.relations(ctx,
		`MATCH (a:Memory {id: $memId})-[r:RELATES]->(b:Memory)
		 RETURN r.id AS id, a.id AS src, b.id AS dst, r.type AS type,
		        r.strength AS strength, r.description AS desc,
		        r.created_at AS created, r.last_activated AS activated`,
		memoryID)
}

// RelationsTo returns all incoming edges of a memory.
func (s *Neo4jStore) RelationsTo(ctx context.Context, memoryID string) ([]*Relation, error) {
	return s.relations(ctx,
		`MATCH (a:Memory)-[r:RELATES]->(b:Memory {id: $memId})
		 RETURN r.id AS id, a.id AS src, b.id AS dst, r.type AS type,
		        r.strength AS strength, r.description AS desc,
		        r.created_at AS created, r.last_activated AS activated`,
		memoryID)
}

func (s *Neo4jStore) relations(ctx context.Context, query, memoryID string) ([]*Relation, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"memId": memoryID})
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}

	var relations []*Relation
	for result.Next(ctx) {
		relations = append(relations, relationFromRecord(result.Record()))
	}
	return relations, nil
}

// UpdateRelation merges the changed fields into an existing edge. Strength
// is clamped to [MinStrength, 1].
func (s *Neo4jStore) UpdateRelation(ctx context.Context, id string, u Update) error {
	params := map[string]any{
		"id":        id,
		"strength":  nil,
		"desc":      nil,
		"activated": nil,
	}
	if u.Strength != nil {
		params["strength"] = clampUpdateStrength(*u.Strength)
	}
	if u.Description != nil {
		params["desc"] = *u.Description
	}
	if u.LastActivatedAt != nil {
		params["activated"] = *u.LastActivatedAt
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH ()-[r:RELATES {id: $id}]->()
		 SET r.strength = coalesce($strength, r.strength),
		     r.description = coalesce($desc, r.description),
		     r.last_activated = coalesce($activated, r.last_activated)
		 RETURN count(r) AS updated`,
		params)
	if err != nil {
		return fmt.Errorf("update relation: %w", err)
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("updated"); ok {
			if n, ok := v.(int64); ok && n == 0 {
				return ErrRelationNotFound
			}
		}
	}
	return nil
}

// TouchActivated refreshes last_activated on the given relations.
func (s *Neo4jStore) TouchActivated(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:RELATES]->()
		 WHERE r.id IN $ids
		 SET r.last_activated = $at`,
		map[string]any{"ids": ids, "at": at})
	if err != nil {
		return fmt.Errorf("touch relations: %w", err)
	}
	return nil
}

func relationFromRecord(rec *neo4j.Record) *Relation {
	r := &Relation{}
	if v, ok := rec.Get("id"); ok && v != nil {
		r.ID = v.(string)
	}
	if v, ok := rec.Get("src"); ok && v != nil {
		r.SourceID = v.(string)
	}
	if v, ok := rec.Get("dst"); ok && v != nil {
		r.TargetID = v.(string)
	}
	if v, ok := rec.Get("type"); ok && v != nil {
		r.Type = RelationType(v.(string))
	}
	if v, ok := rec.Get("strength"); ok && v != nil {
		r.Strength = v.(float64)
	}
	if v, ok := rec.Get("desc"); ok && v != nil {
		r.Description = v.(string)
	}
	if v, ok := rec.Get("created"); ok && v != nil {
		if t, ok := v.(time.Time); ok {
			r.CreatedAt = t
		}
	}
	if v, ok := rec.Get("activated"); ok && v != nil {
		if t, ok := v.(time.Time); ok {
			r.LastActivatedAt = &t
		}
	}
	return r
}
