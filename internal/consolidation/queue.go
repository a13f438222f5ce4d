package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mnemo/internal/kv"
	"go.uber.org/zap"
)

const taskPrefix = "task:"

// Queue stores consolidation task records in the key-value layer.
type Queue struct {
	kv     kv.Store
	logger *zap.Logger
}

// NewQueue creates a task queue over the given key-value store.
func NewQueue(kvStore kv.Store, logger *zap.Logger) *Queue {
	return &Queue{kv: kvStore, logger: logger}
}

// Enqueue persists a new task. A missing id or creation time is filled in.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.kv.Set(ctx, taskPrefix+t.ID, raw); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	q.logger.Debug("task enqueued",
		zap.String("id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Time("scheduled_at", t.ScheduledAt))
	return nil
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := q.kv.Get(ctx, taskPrefix+id)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// Due returns all incomplete tasks scheduled at or before now, oldest
// eligible first, up to limit. Malformed records are skipped.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	records, err := q.kv.List(ctx, taskPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var due []*Task
	for key, raw := range records {
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			q.logger.Warn("skipping malformed task record", zap.String("key", key), zap.Error(err))
			continue
		}
		if t.Due(now) {
			due = append(due, &t)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Complete marks a task completed. It is idempotent: completing an already
// completed task is a no-op, and the flag never reverts.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.kv.Update(ctx, taskPrefix+id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("task %s not found", id)
		}
		var t Task
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
		}
		t.Completed = true
		return json.Marshal(&t)
	})
}
