package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/nidhogg/mnemo/internal/graph"
	"go.uber.org/zap"
)

// InferredRelation is the judgment returned by relation inference for a
// pair of memories.
type InferredRelation struct {
	Type        graph.RelationType `json:"relation_type"`
	Strength    float64            `json:"strength"`
	Description string             `json:"description"`
}

// Inferrer decides whether and how two memories are related. A (nil, nil)
// return means no meaningful relation.
type Inferrer interface {
	InferRelation(ctx context.Context, a, b *Item) (*InferredRelation, error)
}

// LinkerOpts bounds the number of inference calls per ingestion batch.
type LinkerOpts struct {
	MaxRelations int     // desired relations per batch, default 5
	PairCapRatio int     // evaluated pairs <= ratio * MaxRelations, default 3
	MinStrength  float64 // discard inferred relations below this, default 0.4
}

// DefaultLinkerOpts returns the standard inference bounds.
func DefaultLinkerOpts() LinkerOpts {
	return LinkerOpts{MaxRelations: 5, PairCapRatio: 3, MinStrength: 0.4}
}

// Linker builds relation-graph edges for batches of recently ingested
// memories.
type Linker struct {
	graph    graph.Store
	inferrer Inferrer
	opts     LinkerOpts
	logger   *zap.Logger
}

// NewLinker creates a batch relation linker.
func NewLinker(g graph.Store, inferrer Inferrer, opts LinkerOpts, logger *zap.Logger) *Linker {
	def := DefaultLinkerOpts()
	if opts.MaxRelations <= 0 {
		opts.MaxRelations = def.MaxRelations
	}
	if opts.PairCapRatio <= 0 {
		opts.PairCapRatio = def.PairCapRatio
	}
	if opts.MinStrength <= 0 {
		opts.MinStrength = def.MinStrength
	}
	return &Linker{graph: g, inferrer: inferrer, opts: opts, logger: logger}
}

type itemPair struct {
	a, b *Item
}

// LinkBatch forms all unordered pairs of the batch, shuffles them to avoid
// positional bias, caps how many are evaluated, and writes an edge for each
// pair the inferrer judges related strongly enough. A failed or malformed
// judgment discards that pair only; the batch continues. Returns the ids of
// all created edges (symmetric types contribute two).
func (l *Linker) LinkBatch(ctx context.Context, items []*Item) ([]string, error) {
	if len(items) < 2 {
		return nil, nil
	}

	var pairs []itemPair
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			pairs = append(pairs, itemPair{a: items[i], b: items[j]})
		}
	}
	rand.Shuffle(len(pairs), func(i, j int) {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	})

	limit := l.opts.MaxRelations * l.opts.PairCapRatio
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}

	var created []string
	var relations int
	for _, p := range pairs {
		if relations >= l.opts.MaxRelations {
			break
		}
		inferred, err := l.inferrer.InferRelation(ctx, p.a, p.b)
		if err != nil {
			l.logger.Warn("relation inference failed for pair",
				zap.String("a", p.a.ID), zap.String("b", p.b.ID), zap.Error(err))
			continue
		}
		if inferred == nil || inferred.Strength < l.opts.MinStrength {
			continue
		}
		if !inferred.Type.Valid() {
			l.logger.Debug("discarding relation with unknown type",
				zap.String("type", string(inferred.Type)))
			continue
		}

		ids, err := graph.Add(ctx, l.graph, &graph.Relation{
			SourceID:    p.a.ID,
			TargetID:    p.b.ID,
			Type:        inferred.Type,
			Strength:    inferred.Strength,
			Description: inferred.Description,
		})
		if err != nil {
			l.logger.Warn("failed to store inferred relation", zap.Error(err))
			continue
		}
		created = append(created, ids...)
		relations++
	}

	l.logger.Info("relation inference batch complete",
		zap.Int("items", len(items)),
		zap.Int("pairs_evaluated", len(pairs)),
		zap.Int("relations", relations))
	return created, nil
}

// ChatProvider is the minimal LLM surface relation inference needs.
type ChatProvider interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// LLMInferrer asks a chat model whether two memories are related and parses
// its JSON verdict.
type LLMInferrer struct {
	llm    ChatProvider
	logger *zap.Logger
}

// NewLLMInferrer creates an LLM-backed relation inferrer.
func NewLLMInferrer(llm ChatProvider, logger *zap.Logger) *LLMInferrer {
	return &LLMInferrer{llm: llm, logger: logger}
}

const inferSystemPrompt = `You analyze pairs of memories from a conversational agent and decide ` +
	`whether they are meaningfully related. Respond with a single JSON object: ` +
	`{"relation_type": "causal|temporal|similarity|contrast|part_whole|analogy|thematic|emotional|none", ` +
	`"strength": 0.0-1.0, "description": "one short sentence"}. ` +
	`Use "none" when there is no meaningful relation.`

// InferRelation consults the model for one pair. Unparseable responses are
// treated as "no relation" so one bad completion never poisons a batch.
func (i *LLMInferrer) InferRelation(ctx context.Context, a, b *Item) (*InferredRelation, error) {
	user := fmt.Sprintf("Memory A: %s\n\nMemory B: %s", a.Content, b.Content)
	raw, err := i.llm.Chat(ctx, inferSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("inference call: %w", err)
	}

	inferred, ok := parseInferredRelation(raw)
	if !ok {
		i.logger.Debug("discarding unparseable inference response",
			zap.String("response", raw))
		return nil, nil
	}
	return inferred, nil
}

// parseInferredRelation extracts the JSON verdict from a model response,
// tolerating surrounding prose and code fences. ok is false when the
// response is unusable or the verdict is "none".
func parseInferredRelation(raw string) (*InferredRelation, bool) {
	cleaned := strings.TrimSpace(raw)
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var inferred InferredRelation
	if err := json.Unmarshal([]byte(cleaned), &inferred); err != nil {
		return nil, false
	}
	if inferred.Type == "none" || inferred.Type == "" {
		return nil, false
	}
	inferred.Strength = graph.ClampStrength(inferred.Strength)
	return &inferred, true
}
