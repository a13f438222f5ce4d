package consolidation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"go.uber.org/zap"
)

// Config tunes the consolidation executors.
type Config struct {
	DecayRatePerDay   float64       // default 0.01 (~30 days halves strength)
	StrengthenFactor  float64       // default 1.2, capped at 1.0 total
	SalienceThreshold float64       // |valence| above this triggers strengthening, default 0.7
	DecayAfter        time.Duration // decay scheduled this long after relations form, default 30d
	StrengthenMin     time.Duration // earliest strengthening delay, default 1d
	StrengthenMax     time.Duration // latest strengthening delay, default 3d
	PruneBelow        float64       // prune drops relations weaker than this to the floor, default 0.2
	BatchLimit        int           // max tasks claimed per pass, default 50
}

// DefaultConfig returns the standard consolidation tuning.
func DefaultConfig() Config {
	return Config{
		DecayRatePerDay:   0.01,
		StrengthenFactor:  1.2,
		SalienceThreshold: 0.7,
		DecayAfter:        30 * 24 * time.Hour,
		StrengthenMin:     24 * time.Hour,
		StrengthenMax:     72 * time.Hour,
		PruneBelow:        0.2,
		BatchLimit:        50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DecayRatePerDay <= 0 {
		c.DecayRatePerDay = d.DecayRatePerDay
	}
	if c.StrengthenFactor <= 0 {
		c.StrengthenFactor = d.StrengthenFactor
	}
	if c.SalienceThreshold <= 0 {
		c.SalienceThreshold = d.SalienceThreshold
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = d.DecayAfter
	}
	if c.StrengthenMin <= 0 {
		c.StrengthenMin = d.StrengthenMin
	}
	if c.StrengthenMax < c.StrengthenMin {
		c.StrengthenMax = c.StrengthenMin + 48*time.Hour
	}
	if c.PruneBelow <= 0 {
		c.PruneBelow = d.PruneBelow
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = d.BatchLimit
	}
	return c
}

// Runner claims due consolidation tasks and executes them. Failures are
// caught per task: a failed task stays incomplete for the next pass and
// never blocks the rest of the batch.
type Runner struct {
	queue  *Queue
	graph  graph.Store
	items  memory.ItemSource
	linker *memory.Linker
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a consolidation runner.
func NewRunner(queue *Queue, g graph.Store, items memory.ItemSource, linker *memory.Linker, cfg Config, logger *zap.Logger) *Runner {
	return &Runner{
		queue:  queue,
		graph:  g,
		items:  items,
		linker: linker,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Schedule registers consolidation work for a freshly ingested batch: an
// associate task that will infer relations between the batch members. The
// follow-up decay and strengthen tasks are created by the associate
// executor once the relations actually exist.
func (r *Runner) Schedule(ctx context.Context, items []*memory.Item) error {
	if len(items) < 2 {
		return nil
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return r.queue.Enqueue(ctx, &Task{
		Type:        TaskAssociate,
		MemoryIDs:   ids,
		ScheduledAt: time.Now(),
	})
}

// RunDue executes all tasks due at now, oldest first, and returns how many
// completed.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.queue.Due(ctx, now, r.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	var completed int
	for _, t := range due {
		if err := r.execute(ctx, t, now); err != nil {
			r.logger.Warn("consolidation task failed, leaving incomplete",
				zap.String("task", t.ID),
				zap.String("type", string(t.Type)),
				zap.Error(err))
			continue
		}
		if err := r.queue.Complete(ctx, t.ID); err != nil {
			r.logger.Warn("failed to mark task completed",
				zap.String("task", t.ID), zap.Error(err))
			continue
		}
		completed++
	}

	if len(due) > 0 {
		r.logger.Info("consolidation pass complete",
			zap.Int("due", len(due)),
			zap.Int("completed", completed))
	}
	return completed, nil
}

func (r *Runner) execute(ctx context.Context, t *Task, now time.Time) error {
	switch t.Type {
	case TaskDecay:
		return r.executeDecay(ctx, t, now)
	case TaskStrengthen:
		return r.executeStrengthen(ctx, t, now)
	case TaskAssociate:
		return r.executeAssociate(ctx, t, now)
	case TaskPrune:
		return r.executePrune(ctx, t)
	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}
}

// executeDecay applies exponential time decay to each relation, floored at
// the minimum strength so edges weaken but never effectively disappear.
func (r *Runner) executeDecay(ctx context.Context, t *Task, now time.Time) error {
	rate := r.cfg.DecayRatePerDay
	if v, ok := t.Params[ParamDecayRate]; ok && v > 0 {
		rate = v
	}

	for _, id := range t.RelationIDs {
		rel, err := r.graph.GetRelation(ctx, id)
		if err == graph.ErrRelationNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("decay: load relation %s: %w", id, err)
		}

		since := rel.CreatedAt
		if rel.LastActivatedAt != nil {
			since = *rel.LastActivatedAt
		}
		days := now.Sub(since).Hours() / 24
		if days < 0 {
			days = 0
		}

		decayed := rel.Strength * math.Exp(-rate*days)
		if decayed < graph.MinStrength {
			decayed = graph.MinStrength
		}
		if err := r.graph.UpdateRelation(ctx, id, graph.Update{Strength: &decayed}); err != nil {
			return fmt.Errorf("decay: update relation %s: %w", id, err)
		}
	}
	return nil
}

// executeStrengthen multiplies each relation's strength by the
// strengthening factor, capped at 1.0, and refreshes its activation time.
func (r *Runner) executeStrengthen(ctx context.Context, t *Task, now time.Time) error {
	factor := r.cfg.StrengthenFactor
	if v, ok := t.Params[ParamStrengthenFactor]; ok && v > 0 {
		factor = v
	}

	for _, id := range t.RelationIDs {
		rel, err := r.graph.GetRelation(ctx, id)
		if err == graph.ErrRelationNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("strengthen: load relation %s: %w", id, err)
		}

		strengthened := rel.Strength * factor
		if strengthened > 1 {
			strengthened = 1
		}
		at := now
		if err := r.graph.UpdateRelation(ctx, id, graph.Update{
			Strength:        &strengthened,
			LastActivatedAt: &at,
		}); err != nil {
			return fmt.Errorf("strengthen: update relation %s: %w", id, err)
		}
	}
	return nil
}

// executeAssociate infers relations between the batch members, then
// schedules the follow-up work: decay for every new relation after the
// decay window, and deferred strengthening for relations touching
// emotionally salient memories. The strengthening delay models sleep
// consolidation rather than instant reinforcement.
func (r *Runner) executeAssociate(ctx context.Context, t *Task, now time.Time) error {
	if r.linker == nil || r.items == nil {
		return fmt.Errorf("associate: linker not configured")
	}

	var items []*memory.Item
	for _, id := range t.MemoryIDs {
		it, err := r.items.GetItem(ctx, id)
		if err != nil {
			// Superseded or evicted since scheduling; associate what remains.
			r.logger.Debug("associate: skipping missing memory", zap.String("memory", id))
			continue
		}
		items = append(items, it)
	}
	if len(items) < 2 {
		return nil
	}

	relationIDs, err := r.linker.LinkBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("associate: %w", err)
	}
	if len(relationIDs) == 0 {
		return nil
	}

	if err := r.queue.Enqueue(ctx, &Task{
		Type:        TaskDecay,
		RelationIDs: relationIDs,
		Params:      map[string]float64{ParamDecayRate: r.cfg.DecayRatePerDay},
		ScheduledAt: now.Add(r.cfg.DecayAfter),
	}); err != nil {
		return fmt.Errorf("associate: schedule decay: %w", err)
	}

	salient := make(map[string]bool)
	for _, it := range items {
		if it.Salient(r.cfg.SalienceThreshold) {
			salient[it.ID] = true
		}
	}
	if len(salient) > 0 {
		var toStrengthen []string
		for _, id := range relationIDs {
			rel, err := r.graph.GetRelation(ctx, id)
			if err != nil {
				continue
			}
			if salient[rel.SourceID] || salient[rel.TargetID] {
				toStrengthen = append(toStrengthen, id)
			}
		}
		if len(toStrengthen) > 0 {
			delay := r.cfg.StrengthenMin
			if span := r.cfg.StrengthenMax - r.cfg.StrengthenMin; span > 0 {
				delay += time.Duration(rand.Int63n(int64(span)))
			}
			if err := r.queue.Enqueue(ctx, &Task{
				Type:        TaskStrengthen,
				RelationIDs: toStrengthen,
				Params:      map[string]float64{ParamStrengthenFactor: r.cfg.StrengthenFactor},
				ScheduledAt: now.Add(delay),
			}); err != nil {
				return fmt.Errorf("associate: schedule strengthen: %w", err)
			}
		}
	}
	return nil
}

// executePrune drops relations weaker than the prune threshold to the
// strength floor. They remain stored and can be reactivated later.
func (r *Runner) executePrune(ctx context.Context, t *Task) error {
	for _, id := range t.RelationIDs {
		rel, err := r.graph.GetRelation(ctx, id)
		if err == graph.ErrRelationNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("prune: load relation %s: %w", id, err)
		}
		if rel.Strength >= r.cfg.PruneBelow {
			continue
		}
		floor := graph.MinStrength
		if err := r.graph.UpdateRelation(ctx, id, graph.Update{Strength: &floor}); err != nil {
			return fmt.Errorf("prune: update relation %s: %w", id, err)
		}
	}
	return nil
}
