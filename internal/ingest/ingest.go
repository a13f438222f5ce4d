// Package ingest is the write path for long-term memory: persist items,
// index their vectors, and kick off background consolidation.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mnemo/internal/consolidation"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/memory"
	"go.uber.org/zap"
)

// ItemStore persists memory items. The long-term store implements it.
type ItemStore interface {
	Insert(ctx context.Context, it *memory.Item) error
}

// Indexer adds vectors to the similarity index.
type Indexer interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error
}

// Ingestor coordinates the write path. Item persistence is the only hard
// requirement; a missing embedder or index degrades to graph-and-recency
// retrieval, and consolidation scheduling failures are logged, not
// surfaced.
type Ingestor struct {
	items    ItemStore
	embedder embedding.Provider
	index    Indexer
	runner   *consolidation.Runner
	logger   *zap.Logger
}

// New creates an ingestor. embedder, index and runner may be nil.
func New(items ItemStore, embedder embedding.Provider, index Indexer, runner *consolidation.Runner, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		items:    items,
		embedder: embedder,
		index:    index,
		runner:   runner,
		logger:   logger,
	}
}

// Ingest persists a batch of new memory items and returns their ids. The
// triggering request must not wait on relation inference or consolidation;
// those run later from the task queue.
func (in *Ingestor) Ingest(ctx context.Context, items []*memory.Item) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	now := time.Now()
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.Kind == "" {
			it.Kind = memory.KindConversation
		}
	}

	in.embedBatch(ctx, items)

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if err := in.items.Insert(ctx, it); err != nil {
			return ids, fmt.Errorf("persist memory item: %w", err)
		}
		ids = append(ids, it.ID)

		if in.index != nil && len(it.Embedding) > 0 {
			if err := in.index.Upsert(ctx, it.ID, it.Embedding, indexPayload(it)); err != nil {
				in.logger.Warn("vector index upsert failed, item not searchable",
					zap.String("item", it.ID), zap.Error(err))
			}
		}
	}

	if in.runner != nil {
		if err := in.runner.Schedule(ctx, items); err != nil {
			in.logger.Warn("failed to schedule consolidation for batch", zap.Error(err))
		}
	}

	in.logger.Info("memory batch ingested", zap.Int("items", len(ids)))
	return ids, nil
}

func (in *Ingestor) embedBatch(ctx context.Context, items []*memory.Item) {
	if in.embedder == nil {
		return
	}
	var texts []string
	var missing []*memory.Item
	for _, it := range items {
		if len(it.Embedding) == 0 {
			texts = append(texts, it.Content)
			missing = append(missing, it)
		}
	}
	if len(texts) == 0 {
		return
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(missing) {
		in.logger.Warn("batch embedding failed, items not searchable by similarity", zap.Error(err))
		return
	}
	for i, it := range missing {
		it.Embedding = vectors[i]
	}
}

func indexPayload(it *memory.Item) map[string]any {
	payload := map[string]any{
		"content":    it.Content,
		"kind":       string(it.Kind),
		"created_at": it.CreatedAt.UTC().Format(time.RFC3339),
	}
	if it.ConversationID != "" {
		payload["conversation_id"] = it.ConversationID
	}
	if it.Valence != nil {
		payload["valence"] = *it.Valence
	}
	if it.Arousal != nil {
		payload["arousal"] = *it.Arousal
	}
	return payload
}
