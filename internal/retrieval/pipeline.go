// Package retrieval merges similarity search, relevance judging, activation
// spreading and emotional weighting into one ranked, deduplicated memory
// list per conversation turn.
package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/rerank"
	"github.com/nidhogg/mnemo/internal/vectorstore"
	"go.uber.org/zap"
)

// Memory sources, in score-precedence order.
const (
	SourceRerank     = "rerank"
	SourceActivated  = "activated"
	SourceSimilarity = "similarity"
)

// Embedder is the embedding half of the similarity provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the nearest-neighbor half of the similarity provider.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit uint64, filter *vectorstore.Filter) ([]vectorstore.Hit, error)
}

// Query is one turn's retrieval request.
type Query struct {
	ConversationID string                  `json:"conversation_id,omitempty"`
	Text           string                  `json:"text"`
	Emotion        memory.EmotionalProfile `json:"emotion,omitempty"`
	Limit          int                     `json:"limit,omitempty"`
}

// RankedMemory is one retrieved memory with its primary score, the source
// that produced that score, and a presentation-only clarity weight.
type RankedMemory struct {
	Item    *memory.Item `json:"item"`
	Score   float64      `json:"score"`
	Source  string       `json:"source"`
	Clarity float64      `json:"clarity"`
}

// Config tunes the pipeline.
type Config struct {
	Limit       int                   // final list size K, default 10
	SeedCount   int                   // activation seeds from the top candidates, default 2
	Activation  memory.ActivationOpts // spreading bounds
	ClarityRate float64               // per-day clarity decay
	CallTimeout time.Duration         // bound on each external-service call, default 5s
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Limit:       10,
		SeedCount:   2,
		Activation:  memory.DefaultActivationOpts(),
		ClarityRate: memory.DefaultClarityRate,
		CallTimeout: 5 * time.Second,
	}
}

// Pipeline produces the ranked memory list for a turn. Every external
// dependency is optional except the item source: a missing or failing
// similarity index, judge or graph degrades the result instead of failing
// the turn.
type Pipeline struct {
	embedder Embedder
	vectors  Searcher
	reranker rerank.Provider
	spreader *memory.Spreader
	items    memory.ItemSource
	cfg      Config
	logger   *zap.Logger
}

// New creates a retrieval pipeline.
func New(embedder Embedder, vectors Searcher, reranker rerank.Provider, spreader *memory.Spreader, items memory.ItemSource, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Limit <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.SeedCount <= 0 {
		cfg.SeedCount = 2
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		reranker: reranker,
		spreader: spreader,
		items:    items,
		cfg:      cfg,
		logger:   logger,
	}
}

type candidate struct {
	item   *memory.Item
	score  float64
	source string
}

// Retrieve runs the merge pipeline for one query turn.
func (p *Pipeline) Retrieve(ctx context.Context, q Query) ([]RankedMemory, error) {
	start := time.Now()
	k := q.Limit
	if k <= 0 {
		k = p.cfg.Limit
	}

	pool := make(map[string]*candidate)

	// Step 1: candidate pool from the similarity provider.
	queryVec := p.embedQuery(ctx, q.Text)
	if queryVec != nil {
		var filter *vectorstore.Filter
		if q.ConversationID != "" {
			filter = &vectorstore.Filter{ConversationID: q.ConversationID}
		}
		p.searchInto(ctx, pool, queryVec, uint64(k), filter, false)
	}

	// Step 2: refine with the relevance judge; fall back to vector order.
	p.applyRerank(ctx, q.Text, pool)

	// Step 3: activation spreading from the strongest candidates.
	p.spreadInto(ctx, pool)

	// Step 4: emotional re-weighting, at most ±20%.
	for _, c := range pool {
		match := memory.EmotionalMatch(q.Emotion, c.item.Profile())
		c.score = memory.ReweightEmotional(c.score, match)
	}

	// Step 5: backfill if the pool is still short.
	if len(pool) < k && queryVec != nil {
		exclude := make([]string, 0, len(pool))
		for id := range pool {
			exclude = append(exclude, id)
		}
		sort.Strings(exclude)

		p.searchInto(ctx, pool, queryVec, uint64(k-len(pool)),
			&vectorstore.Filter{ExcludeIDs: exclude}, true)

		if ef := emotionFilter(q.Emotion, exclude); ef != nil {
			p.searchInto(ctx, pool, queryVec, uint64(k), ef, true)
		}
	}

	// Step 6: rank, tie-break on recency, truncate.
	ranked := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].item.CreatedAt.Equal(ranked[j].item.CreatedAt) {
			return ranked[i].item.CreatedAt.After(ranked[j].item.CreatedAt)
		}
		return ranked[i].item.ID < ranked[j].item.ID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	// Step 7: attach clarity for downstream presentation; ranking is final.
	now := time.Now()
	out := make([]RankedMemory, len(ranked))
	for i, c := range ranked {
		out[i] = RankedMemory{
			Item:    c.item,
			Score:   c.score,
			Source:  c.source,
			Clarity: memory.Clarity(c.item, now, p.cfg.ClarityRate),
		}
	}

	p.logger.Info("retrieval complete",
		zap.String("conversation", q.ConversationID),
		zap.Int("returned", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// embedQuery returns the query vector, or nil when embedding is
// unavailable or fails; retrieval then proceeds on the graph alone.
func (p *Pipeline) embedQuery(ctx context.Context, text string) []float32 {
	if p.embedder == nil || p.vectors == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	vecs, err := p.embedder.Embed(callCtx, []string{text})
	if err != nil || len(vecs) == 0 {
		p.logger.Warn("query embedding unavailable", zap.Error(err))
		return nil
	}
	return vecs[0]
}

// searchInto adds similarity hits to the pool. With keepHighest set an
// already-pooled id may be upgraded to a higher score; otherwise existing
// entries win.
func (p *Pipeline) searchInto(ctx context.Context, pool map[string]*candidate, vec []float32, limit uint64, filter *vectorstore.Filter, keepHighest bool) {
	if p.vectors == nil || limit == 0 {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	hits, err := p.vectors.Search(callCtx, vec, limit, filter)
	if err != nil {
		p.logger.Warn("similarity search failed", zap.Error(err))
		return
	}
	for _, h := range hits {
		score := float64(h.Score)
		if existing, ok := pool[h.ID]; ok {
			if keepHighest && score > existing.score {
				existing.score = score
				existing.source = SourceSimilarity
			}
			continue
		}
		item, err := p.items.GetItem(ctx, h.ID)
		if err != nil {
			continue // indexed but no longer fetchable
		}
		pool[h.ID] = &candidate{item: item, score: score, source: SourceSimilarity}
	}
}

// applyRerank submits the pool to the relevance judge. On failure or an
// empty answer the similarity ordering stands.
func (p *Pipeline) applyRerank(ctx context.Context, query string, pool map[string]*candidate) {
	if p.reranker == nil || len(pool) == 0 {
		return
	}

	ids := make([]string, 0, len(pool))
	for id := range pool {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]string, len(ids))
	for i, id := range ids {
		docs[i] = pool[id].item.Content
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	results, err := p.reranker.Rerank(callCtx, query, docs, len(docs))
	if err != nil || len(results) == 0 {
		p.logger.Warn("relevance judge unavailable, keeping similarity order", zap.Error(err))
		return
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(ids) {
			continue
		}
		c := pool[ids[r.Index]]
		c.score = r.RelevanceScore
		c.source = SourceRerank
	}
}

// spreadInto runs activation spreading from the top candidates and unions
// newly discovered memories into the pool at their activation strength.
func (p *Pipeline) spreadInto(ctx context.Context, pool map[string]*candidate) {
	if p.spreader == nil || len(pool) == 0 {
		return
	}

	seeds := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		seeds = append(seeds, c)
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].score != seeds[j].score {
			return seeds[i].score > seeds[j].score
		}
		return seeds[i].item.ID < seeds[j].item.ID
	})
	if len(seeds) > p.cfg.SeedCount {
		seeds = seeds[:p.cfg.SeedCount]
	}

	for _, seed := range seeds {
		result, err := p.spreader.Spread(ctx, seed.item.ID, p.cfg.Activation)
		if err != nil {
			p.logger.Warn("activation spreading failed",
				zap.String("seed", seed.item.ID), zap.Error(err))
			continue
		}
		for _, act := range result.Activations {
			if _, ok := pool[act.MemoryID]; ok {
				continue
			}
			item, err := p.items.GetItem(ctx, act.MemoryID)
			if err != nil {
				continue
			}
			pool[act.MemoryID] = &candidate{item: item, score: act.Strength, source: SourceActivated}
		}
	}
}

// emotionFilter derives a supplementary search window from the query's
// emotional profile, or nil when there is nothing to filter on.
func emotionFilter(profile memory.EmotionalProfile, exclude []string) *vectorstore.Filter {
	if profile.Valence == nil && profile.Arousal == nil {
		return nil
	}
	f := &vectorstore.Filter{ExcludeIDs: exclude}
	if profile.Valence != nil {
		f.Valence = &vectorstore.Range{Min: *profile.Valence - 0.3, Max: *profile.Valence + 0.3}
	}
	if profile.Arousal != nil {
		f.Arousal = &vectorstore.Range{Min: *profile.Arousal - 0.3, Max: *profile.Arousal + 0.3}
	}
	return f
}
