// Package store persists the unified message timeline and per-conversation
// aggregates in a single SQLite database file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/chathub/pkg/models"
)

// DefaultLimit caps timeline and conversation queries when the caller
// does not supply a limit.
const DefaultLimit = 50

// NewEntry carries the fields of a timeline entry the caller controls.
// The store assigns the id and createdAt stamp.
type NewEntry struct {
	Direction         models.Direction
	Platform          models.Platform
	PlatformMessageID string
	PlatformChatID    string
	PlatformChatType  *string
	SenderName        string
	SenderID          string
	Text              *string
	Timestamp         int64
	PlatformMeta      *string
}

// Page is a cursor-based window over the timeline. After is an exclusive
// lower bound on id, Before an exclusive upper bound.
type Page struct {
	After  *int64
	Before *int64
	Limit  int
}

// Store is a SQLite-backed timeline store. Ingest transactions are
// serialized through a mutex on top of WAL journaling; readers go
// straight to the pool.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex // serializes compound ingest transactions

	dbMu sync.RWMutex // guards db across Open/Close and readers
	db   *sql.DB
}

// New creates a store for the database file at path. Open must be called
// before any other operation.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger.With("component", "store")}
}

const schema = `
CREATE TABLE IF NOT EXISTS timeline (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	direction TEXT NOT NULL,
	platform TEXT NOT NULL,
	platform_message_id TEXT NOT NULL,
	platform_chat_id TEXT NOT NULL,
	platform_chat_type TEXT,
	sender_name TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	text TEXT,
	timestamp INTEGER NOT NULL,
	platform_meta TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timeline_conversation ON timeline(platform, platform_chat_id, id);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	platform_chat_id TEXT NOT NULL,
	platform_chat_type TEXT,
	label TEXT NOT NULL,
	first_seen_at TEXT NOT NULL,
	last_message_at TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(platform, platform_chat_id)
);
CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
`

// Open creates the parent directory if needed, opens the database with
// WAL journaling, verifies the backing encoding is UTF-8, and runs the
// idempotent schema creation.
func (s *Store) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// modernc.org/sqlite expects pragmas in the DSN prefixed with _pragma=.
	// WAL keeps the compound ingest atomic under crash; the busy timeout
	// covers readers racing the single writer.
	dsn := s.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(0)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database %s: %w", s.path, err)
	}

	// Single connection is optimal for SQLite under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var encoding string
	if err := db.QueryRowContext(ctx, "PRAGMA encoding").Scan(&encoding); err != nil {
		db.Close()
		return fmt.Errorf("read database encoding: %w", err)
	}
	if encoding != "UTF-8" {
		db.Close()
		return fmt.Errorf("database %s uses encoding %q, require UTF-8", s.path, encoding)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()
	s.logger.Info("store opened", "path", s.path)
	return nil
}

// Close releases the database. Operations after Close fail.
func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	if s.db == nil {
		return nil, errors.New("store is closed")
	}
	return s.db, nil
}

// Ingest inserts a timeline row and upserts the conversation aggregate in
// one transaction. The conversation's chat type is only overwritten when
// the entry supplies a non-null value.
func (s *Store) Ingest(ctx context.Context, e NewEntry, label string) (*models.TimelineEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO timeline (direction, platform, platform_message_id, platform_chat_id,
			platform_chat_type, sender_name, sender_id, text, timestamp, platform_meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Direction, e.Platform, e.PlatformMessageID, e.PlatformChatID,
		e.PlatformChatType, e.SenderName, e.SenderID, e.Text, e.Timestamp, e.PlatformMeta, now)
	if err != nil {
		return nil, fmt.Errorf("insert timeline row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read timeline id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (platform, platform_chat_id, platform_chat_type, label,
			first_seen_at, last_message_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(platform, platform_chat_id) DO UPDATE SET
			message_count = message_count + 1,
			last_message_at = excluded.last_message_at,
			label = excluded.label,
			platform_chat_type = COALESCE(excluded.platform_chat_type, conversations.platform_chat_type)`,
		e.Platform, e.PlatformChatID, e.PlatformChatType, label, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest: %w", err)
	}

	return &models.TimelineEntry{
		ID:                id,
		Direction:         e.Direction,
		Platform:          e.Platform,
		PlatformMessageID: e.PlatformMessageID,
		PlatformChatID:    e.PlatformChatID,
		PlatformChatType:  e.PlatformChatType,
		SenderName:        e.SenderName,
		SenderID:          e.SenderID,
		Text:              e.Text,
		Timestamp:         e.Timestamp,
		PlatformMeta:      e.PlatformMeta,
		CreatedAt:         now,
	}, nil
}

// Timeline returns entries for one conversation, newest first.
func (s *Store) Timeline(ctx context.Context, platform models.Platform, chatID string, p Page) ([]*models.TimelineEntry, error) {
	return s.queryTimeline(ctx, []string{"platform = ?", "platform_chat_id = ?"}, []any{platform, chatID}, p)
}

// UnifiedTimeline returns entries across all conversations, newest first.
func (s *Store) UnifiedTimeline(ctx context.Context, p Page) ([]*models.TimelineEntry, error) {
	return s.queryTimeline(ctx, nil, nil, p)
}

func (s *Store) queryTimeline(ctx context.Context, where []string, args []any, p Page) ([]*models.TimelineEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if p.After != nil {
		where = append(where, "id > ?")
		args = append(args, *p.After)
	}
	if p.Before != nil {
		where = append(where, "id < ?")
		args = append(args, *p.Before)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, direction, platform, platform_message_id, platform_chat_id,
		platform_chat_type, sender_name, sender_id, text, timestamp, platform_meta, created_at
		FROM timeline`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	entries := []*models.TimelineEntry{}
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.ID, &e.Direction, &e.Platform, &e.PlatformMessageID,
			&e.PlatformChatID, &e.PlatformChatType, &e.SenderName, &e.SenderID,
			&e.Text, &e.Timestamp, &e.PlatformMeta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Conversations lists conversations ordered by most recent activity.
// An empty platform means no platform filter.
func (s *Store) Conversations(ctx context.Context, platform models.Platform, limit int) ([]*models.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, platform, platform_chat_id, platform_chat_type, label,
		first_seen_at, last_message_at, message_count FROM conversations`
	args := []any{}
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, platform)
	}
	query += " ORDER BY last_message_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Platform, &c.PlatformChatID, &c.PlatformChatType,
			&c.Label, &c.FirstSeenAt, &c.LastMessageAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

// Conversation returns the conversation for the key, or nil when none exists.
func (s *Store) Conversation(ctx context.Context, platform models.Platform, chatID string) (*models.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var c models.Conversation
	err = db.QueryRowContext(ctx, `SELECT id, platform, platform_chat_id, platform_chat_type,
		label, first_seen_at, last_message_at, message_count
		FROM conversations WHERE platform = ? AND platform_chat_id = ?`,
		platform, chatID).Scan(&c.ID, &c.Platform, &c.PlatformChatID, &c.PlatformChatType,
		&c.Label, &c.FirstSeenAt, &c.LastMessageAt, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &c, nil
}

// Stats returns total message and conversation counts.
func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var stats models.Stats
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM timeline").Scan(&stats.MessageCount); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&stats.ConversationCount); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	return &stats, nil
}
