// Package memory holds the long-term memory domain types and the
// algorithms that operate on them: activation spreading over the relation
// graph, relation inference for ingested batches, and the emotional and
// time-decay weighting used by retrieval.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound is returned when a memory item id does not exist.
var ErrItemNotFound = errors.New("memory: item not found")

// Kind tags the origin of a memory item.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindFact         Kind = "fact"
	KindEvent        Kind = "event"
	KindReflection   Kind = "reflection"
)

// Item is an immutable long-term memory record. It is created once when
// content is persisted and never mutated, only superseded.
type Item struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Content        string             `json:"content"`
	Kind           Kind               `json:"kind"`
	Embedding      []float32          `json:"-"`
	Importance     int                `json:"importance,omitempty"` // 1-5, 0 when unset
	Valence        *float64           `json:"valence,omitempty"`    // -1..1
	Arousal        *float64           `json:"arousal,omitempty"`    // 0..1
	Emotions       map[string]float64 `json:"emotions,omitempty"`   // named dimension scores
	CreatedAt      time.Time          `json:"created_at"`
}

// EmotionalProfile is the emotional shape of an item or a query.
type EmotionalProfile struct {
	Valence  *float64           `json:"valence,omitempty"`
	Arousal  *float64           `json:"arousal,omitempty"`
	Emotions map[string]float64 `json:"emotions,omitempty"`
}

// Empty reports whether the profile carries no emotional data at all.
func (p EmotionalProfile) Empty() bool {
	return p.Valence == nil && p.Arousal == nil && len(p.Emotions) == 0
}

// Profile returns the item's stored emotional profile.
func (it *Item) Profile() EmotionalProfile {
	return EmotionalProfile{Valence: it.Valence, Arousal: it.Arousal, Emotions: it.Emotions}
}

// Salient reports whether the item's emotional valence exceeds the given
// absolute threshold. Salient memories get their relations strengthened by
// the consolidation scheduler.
func (it *Item) Salient(threshold float64) bool {
	if it.Valence == nil {
		return false
	}
	v := *it.Valence
	if v < 0 {
		v = -v
	}
	return v > threshold
}

// ItemSource fetches full memory items by id. The long-term store
// implements it; tests substitute fixtures.
type ItemSource interface {
	GetItem(ctx context.Context, id string) (*Item, error)
}
