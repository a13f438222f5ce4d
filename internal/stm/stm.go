// Package stm implements the short-term conversational memory: a bounded
// log of recent turns per conversation key.
package stm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/nidhogg/mnemo/internal/kv"
	"go.uber.org/zap"
)

const (
	// DefaultBound is the maximum number of retained entries per conversation.
	DefaultBound = 15

	retryBound      = 3
	backoffBase     = 20 * time.Millisecond
	backoffJitterMs = 50
)

// Entry is a single recent-turn record.
type Entry struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps per-conversation recent-turn logs in the key-value layer.
// Appends use compare-and-swap with bounded retries; after the retries are
// exhausted the locally computed list is returned and the rare lost update
// is tolerated, so a contended append never blocks or fails the caller.
type Store struct {
	kv     kv.Store
	bound  int
	logger *zap.Logger
}

// New creates an STM store. bound <= 0 selects DefaultBound.
func New(kvStore kv.Store, bound int, logger *zap.Logger) *Store {
	if bound <= 0 {
		bound = DefaultBound
	}
	return &Store{kv: kvStore, bound: bound, logger: logger}
}

func stmKey(conversationKey string) string {
	return "stm:" + conversationKey
}

// Read returns the current entry list for a conversation, oldest first.
// Storage failures degrade to an empty list.
func (s *Store) Read(ctx context.Context, conversationKey string) ([]Entry, error) {
	raw, err := s.kv.Get(ctx, stmKey(conversationKey))
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("stm read failed", zap.String("conversation", conversationKey), zap.Error(err))
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Warn("stm record malformed, resetting", zap.String("conversation", conversationKey), zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

// Append adds an entry to a conversation's log and returns the resulting
// list. The list never exceeds the bound; the oldest entries are pruned.
func (s *Store) Append(ctx context.Context, conversationKey string, entry Entry) ([]Entry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	key := stmKey(conversationKey)
	var computed []Entry

	for attempt := 0; attempt <= retryBound; attempt++ {
		err := s.kv.Update(ctx, key, func(current []byte) ([]byte, error) {
			var entries []Entry
			if len(current) > 0 {
				if uerr := json.Unmarshal(current, &entries); uerr != nil {
					// Malformed record: start over rather than fail the append.
					entries = nil
				}
			}
			entries = append(entries, entry)
			if len(entries) > s.bound {
				entries = entries[len(entries)-s.bound:]
			}
			computed = entries
			raw, merr := json.Marshal(entries)
			if merr != nil {
				return nil, fmt.Errorf("marshal stm entries: %w", merr)
			}
			return raw, nil
		})
		if err == nil {
			return computed, nil
		}
		if err != kv.ErrConflict {
			s.logger.Warn("stm append failed",
				zap.String("conversation", conversationKey),
				zap.Error(err))
			return computed, nil
		}
		if attempt < retryBound {
			// Randomized backoff so concurrent writers don't retry in lockstep.
			sleep := backoffBase + time.Duration(rand.Intn(backoffJitterMs))*time.Millisecond
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return computed, ctx.Err()
			}
		}
	}

	s.logger.Warn("stm append retries exhausted, accepting best-effort result",
		zap.String("conversation", conversationKey),
		zap.Int("retries", retryBound))
	return computed, nil
}
