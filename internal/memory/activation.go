package memory

import (
	"context"
	"time"

	"github.com/nidhogg/mnemo/internal/graph"
	"go.uber.org/zap"
)

// ActivationOpts controls spreading activation behavior.
type ActivationOpts struct {
	MaxDepth  int     // max hops from the seed, default 2
	Threshold float64 // min propagated strength to follow an edge, default 0.3
}

// DefaultActivationOpts returns the standard traversal bounds.
func DefaultActivationOpts() ActivationOpts {
	return ActivationOpts{MaxDepth: 2, Threshold: 0.3}
}

// Activation is one memory recalled by spreading activation, reported at
// the strength and path of its first (breadth-first) discovery. Because
// strength only shrinks with depth, that is also its strongest path.
type Activation struct {
	MemoryID string           `json:"memory_id"`
	Strength float64          `json:"strength"`
	Path     []graph.Relation `json:"path"`
}

// ActivationResult holds the output of one spreading pass.
type ActivationResult struct {
	Activations []Activation  `json:"activations"`
	Traversed   []string      `json:"traversed"` // relation ids followed
	Duration    time.Duration `json:"duration"`
}

// Spreader walks the relation graph outward from seed memories.
type Spreader struct {
	graph  graph.Store
	items  ItemSource // optional; nil skips content checks
	logger *zap.Logger
}

// NewSpreader creates an activation spreading engine.
func NewSpreader(g graph.Store, items ItemSource, logger *zap.Logger) *Spreader {
	return &Spreader{graph: g, items: items, logger: logger}
}

type frontier struct {
	id       string
	depth    int
	strength float64
	path     []graph.Relation
}

// Spread performs a breadth-first, strength-bounded traversal from seedID.
// Each hop multiplies the carried strength by the edge strength; edges whose
// propagated strength falls below the threshold are not followed, which
// bounds the traversal to a small neighborhood even on dense graphs.
// Traversed edges get their last-activated time refreshed. Memories whose
// content cannot be fetched are skipped silently.
func (s *Spreader) Spread(ctx context.Context, seedID string, opts ActivationOpts) (*ActivationResult, error) {
	start := time.Now()
	if opts.MaxDepth <= 0 {
		opts = DefaultActivationOpts()
	}

	queue := []frontier{{id: seedID, depth: opts.MaxDepth, strength: 1.0}}
	visited := map[string]bool{seedID: true}
	result := &ActivationResult{}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if s.items != nil {
			if _, err := s.items.GetItem(ctx, node.id); err != nil {
				// Evicted or unreachable item: drop it, keep traversing.
				s.logger.Debug("activation skipping unfetchable memory",
					zap.String("memory", node.id), zap.Error(err))
				continue
			}
		}

		result.Activations = append(result.Activations, Activation{
			MemoryID: node.id,
			Strength: node.strength,
			Path:     node.path,
		})

		if node.depth == 0 {
			continue
		}

		relations, err := s.graph.RelationsFrom(ctx, node.id)
		if err != nil {
			s.logger.Warn("activation failed to list relations",
				zap.String("memory", node.id), zap.Error(err))
			continue
		}

		for _, rel := range relations {
			if !rel.Traversable() {
				continue
			}
			propagated := node.strength * rel.Strength
			if propagated < opts.Threshold || visited[rel.TargetID] {
				continue
			}
			visited[rel.TargetID] = true

			path := make([]graph.Relation, len(node.path), len(node.path)+1)
			copy(path, node.path)
			path = append(path, *rel)

			queue = append(queue, frontier{
				id:       rel.TargetID,
				depth:    node.depth - 1,
				strength: propagated,
				path:     path,
			})
			result.Traversed = append(result.Traversed, rel.ID)
		}
	}

	// Traversal itself reinforces recency; the decay task reads it later.
	if len(result.Traversed) > 0 {
		if err := s.graph.TouchActivated(ctx, result.Traversed, time.Now()); err != nil {
			s.logger.Warn("activation failed to touch relations", zap.Error(err))
		}
	}

	result.Duration = time.Since(start)
	s.logger.Debug("spreading activation complete",
		zap.String("seed", seedID),
		zap.Int("activated", len(result.Activations)),
		zap.Int("traversed", len(result.Traversed)),
		zap.Duration("duration", result.Duration))
	return result, nil
}
