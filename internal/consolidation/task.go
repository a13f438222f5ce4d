// Package consolidation implements the background strengthening and decay
// of memory relations: tasks as data in the key-value layer, a poller that
// claims due tasks, and per-type executors. Execution is at-least-once; a
// task interrupted mid-run stays incomplete and is picked up on the next
// pass.
package consolidation

import (
	"time"
)

// TaskType selects the executor for a consolidation task.
type TaskType string

const (
	// TaskDecay weakens relations by elapsed time since last activation.
	TaskDecay TaskType = "decay"
	// TaskStrengthen reinforces relations of emotionally salient memories.
	TaskStrengthen TaskType = "strengthen"
	// TaskAssociate runs relation inference over an ingested batch.
	TaskAssociate TaskType = "associate"
	// TaskPrune drops weak relations to the strength floor, never deletes.
	TaskPrune TaskType = "prune"
)

// Param keys recognized by the executors.
const (
	ParamDecayRate        = "decay_rate"        // per-day exponential rate
	ParamStrengthenFactor = "strengthen_factor" // multiplier, capped at 1.0
)

// Task is a pure data record, keyed by its scheduled time. The scheduler is
// its sole mutator; once Completed is set it stays set.
type Task struct {
	ID          string             `json:"id"`
	Type        TaskType           `json:"type"`
	MemoryIDs   []string           `json:"memory_ids,omitempty"`
	RelationIDs []string           `json:"relation_ids,omitempty"`
	Params      map[string]float64 `json:"params,omitempty"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	Completed   bool               `json:"completed"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Due reports whether the task is eligible to run at the given time.
func (t *Task) Due(now time.Time) bool {
	return !t.Completed && !t.ScheduledAt.After(now)
}
