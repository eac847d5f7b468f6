// Package history persists saved conversations in SQLite. Retention modes:
// ephemeral keeps nothing, session starts empty on every open, persistent
// keeps conversations until pruned.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no conversation has the requested id.
var ErrNotFound = errors.New("conversation not found")

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Conversation is one saved chat.
type Conversation struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Preview   string          `json:"preview"`
	Messages  []protocol.Turn `json:"messages"`
	Stats     metadata.Stats  `json:"stats"`
}

// FromEvent converts a published turn event into its saved form.
func FromEvent(evt protocol.TurnEvent) Conversation {
	return Conversation{
		ID:        evt.ConversationID,
		Timestamp: evt.Timestamp,
		Preview:   evt.Preview,
		Messages:  evt.Messages,
		Stats:     evt.Stats,
	}
}

// Store wraps a SQLite-backed conversation store.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
			log.Warn("history reset for session mode failed", slog.String("error", err.Error()))
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    preview TEXT NOT NULL,
    messages TEXT NOT NULL,
    stats TEXT NOT NULL,
    message_count INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Save inserts or replaces a conversation. A snapshot with fewer messages
// than the stored one is ignored, so a late write of an older snapshot never
// rolls the conversation back.
func (s *Store) Save(ctx context.Context, conv Conversation) error {
	if s.disabled() {
		return nil
	}
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	if conv.Timestamp.IsZero() {
		conv.Timestamp = s.clock()
	}
	messages := conv.Messages
	if messages == nil {
		messages = []protocol.Turn{}
	}
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	statsJSON, err := json.Marshal(conv.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, preview, messages, stats, message_count, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET preview=excluded.preview, messages=excluded.messages,
		   stats=excluded.stats, message_count=excluded.message_count, updated_at=excluded.updated_at
		 WHERE excluded.message_count >= conversations.message_count`,
		conv.ID, conv.Preview, string(msgJSON), string(statsJSON), len(messages), conv.Timestamp.UTC().Format(timeLayout))
	return err
}

// Get loads one conversation.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	if s.disabled() {
		return Conversation{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, preview, messages, stats, updated_at FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// List returns up to limit conversations, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]Conversation, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, preview, messages, stats, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Delete removes one conversation. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.disabled() {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (Conversation, error) {
	var (
		conv      Conversation
		messages  string
		stats     string
		updatedAt string
	)
	if err := row.Scan(&conv.ID, &conv.Preview, &messages, &stats, &updatedAt); err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return Conversation{}, fmt.Errorf("decode messages of %s: %w", conv.ID, err)
	}
	if err := json.Unmarshal([]byte(stats), &conv.Stats); err != nil {
		return Conversation{}, fmt.Errorf("decode stats of %s: %w", conv.ID, err)
	}
	if ts, err := time.Parse(timeLayout, updatedAt); err == nil {
		conv.Timestamp = ts
	}
	return conv, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff.UTC().Format(timeLayout)); err != nil {
			return err
		}
	}
	if s.cfg.MaxConversations > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxConversations)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
