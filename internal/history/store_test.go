package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "history.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(id string, ts time.Time) Conversation {
	return Conversation{
		ID:        id,
		Timestamp: ts,
		Preview:   "hello " + id,
		Messages: []protocol.Turn{
			{Role: protocol.RoleUser, Text: "hello " + id},
			{Role: protocol.RoleModel, Text: "hi"},
		},
		Stats: metadata.Stats{BondScore: 12, MasteryLevel: 3, Mood: metadata.MoodHappy},
	}
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.db != nil {
		t.Fatalf("ephemeral store opened a database")
	}
	if err := s.Save(ctx, sample("a", time.Now())); err != nil {
		t.Fatalf("save should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveGetAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, config.HistoryConfig{RetentionMode: "persistent"})

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, sample("c1", ts)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 2 || got.Stats.Mood != metadata.MoodHappy || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected conversation %+v", got)
	}

	updated := sample("c1", ts.Add(time.Minute))
	updated.Messages = append(updated.Messages, protocol.Turn{Role: protocol.RoleUser, Text: "more"})
	updated.Stats.BondScore = 50
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 3 || got.Stats.BondScore != 50 {
		t.Fatalf("upsert not applied: %+v", got)
	}

	// A late write of the older snapshot must not roll the row back.
	if err := s.Save(ctx, sample("c1", ts.Add(2*time.Minute))); err != nil {
		t.Fatalf("stale save: %v", err)
	}
	got, err = s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 3 || got.Stats.BondScore != 50 {
		t.Fatalf("older snapshot replaced newer one: %+v", got)
	}
}

func TestListNewestFirstAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, config.HistoryConfig{RetentionMode: "persistent"})

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Save(ctx, sample(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Fatalf("unexpected order %v", ids(list))
	}

	if err := s.Delete(ctx, "mid"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "mid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	list, _ = s.List(ctx, 10)
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %v", ids(list))
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, config.HistoryConfig{RetentionMode: "persistent", RetentionDays: 1, MaxConversations: 1})

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Save(ctx, sample("stale", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, sample("older", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, sample("newest", time.Date(2025, 1, 2, 18, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "newest" {
		t.Fatalf("unexpected survivors %v", ids(list))
	}
}

func TestSessionModeStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := config.HistoryConfig{Path: path, RetentionMode: "session"}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Save(ctx, sample("x", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = first.Close()

	second := openStore(t, cfg)
	list, err := second.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty store, got %v", ids(list))
	}
}

func TestSaveRequiresID(t *testing.T) {
	s := openStore(t, config.HistoryConfig{RetentionMode: "persistent"})
	if err := s.Save(context.Background(), Conversation{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func ids(list []Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
