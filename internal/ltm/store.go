// Package ltm persists long-term memory items in PostgreSQL. Items are
// append-only: created once, never mutated, only superseded by newer items.
package ltm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/mnemo/internal/memory"
	"go.uber.org/zap"
)

// ErrUnavailable is surfaced when the primary item store cannot be reached
// at startup. There is no meaningful fallback for it.
var ErrUnavailable = errors.New("ltm: store unavailable")

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool and verifies connectivity.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Insert persists a new memory item. A missing id or timestamp is filled in.
func (s *Store) Insert(ctx context.Context, it *memory.Item) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	if it.Kind == "" {
		it.Kind = memory.KindConversation
	}

	var emotions []byte
	if len(it.Emotions) > 0 {
		var err error
		emotions, err = json.Marshal(it.Emotions)
		if err != nil {
			return fmt.Errorf("marshal emotions: %w", err)
		}
	}

	var importance *int
	if it.Importance >= 1 && it.Importance <= 5 {
		importance = &it.Importance
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_items
			(id, conversation_id, content, kind, importance, valence, arousal, emotions, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, nullable(it.ConversationID), it.Content, string(it.Kind),
		importance, it.Valence, it.Arousal, emotions, it.Embedding, it.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory item: %w", err)
	}
	return nil
}

// GetItem fetches a single item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*memory.Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, coalesce(conversation_id, ''), content, kind,
		       coalesce(importance, 0), valence, arousal, emotions, created_at
		FROM memory_items WHERE id = $1`, id)
	return scanItem(row)
}

// GetItems fetches several items by id; missing ids are simply absent from
// the result.
func (s *Store) GetItems(ctx context.Context, ids []string) ([]*memory.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, coalesce(conversation_id, ''), content, kind,
		       coalesce(importance, 0), valence, arousal, emotions, created_at
		FROM memory_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get memory items: %w", err)
	}
	defer rows.Close()

	var items []*memory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListRecent returns the most recent items for a conversation, newest first.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]*memory.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, coalesce(conversation_id, ''), content, kind,
		       coalesce(importance, 0), valence, arousal, emotions, created_at
		FROM memory_items
		WHERE conversation_id = $1
		ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent items: %w", err)
	}
	defer rows.Close()

	var items []*memory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

func scanItem(row pgx.Row) (*memory.Item, error) {
	var it memory.Item
	var kind string
	var emotions []byte
	if err := row.Scan(&it.ID, &it.ConversationID, &it.Content, &kind,
		&it.Importance, &it.Valence, &it.Arousal, &emotions, &it.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memory.ErrItemNotFound
		}
		return nil, fmt.Errorf("scan memory item: %w", err)
	}
	it.Kind = memory.Kind(kind)
	if len(emotions) > 0 {
		if err := json.Unmarshal(emotions, &it.Emotions); err != nil {
			return nil, fmt.Errorf("unmarshal emotions: %w", err)
		}
	}
	return &it, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
