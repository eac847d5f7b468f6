// Package conversation keeps the ordered turns and relationship stats of one
// chat and announces every completed turn.
package conversation

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"github.com/google/uuid"
)

const previewRunes = 60

// Publisher receives a snapshot after every completed turn.
type Publisher interface {
	PublishTurn(evt protocol.TurnEvent) error
}

// Transcript is an append-only log of turns plus the current stats.
type Transcript struct {
	mu      sync.Mutex
	id      string
	source  string
	turns   []protocol.Turn
	stats   metadata.Stats

	pub    Publisher
	logger *slog.Logger
	clock  func() time.Time
}

// New starts an empty conversation with a fresh id. pub may be nil.
func New(source string, pub Publisher, logger *slog.Logger) *Transcript {
	return Resume(uuid.NewString(), nil, metadata.DefaultStats(), source, pub, logger)
}

// Resume continues a saved conversation.
func Resume(id string, turns []protocol.Turn, stats metadata.Stats, source string, pub Publisher, logger *slog.Logger) *Transcript {
	return &Transcript{
		id:      id,
		source:  source,
		turns:   append([]protocol.Turn(nil), turns...),
		stats:   stats,
		pub:     pub,
		logger:  logger.With(slog.String("component", "conversation"), slog.String("conversation_id", id)),
		clock:   time.Now,
	}
}

func (t *Transcript) ID() string { return t.id }

// Complete strips the metadata block from modelText, splits off the coach's
// correction, updates the stats, and appends both turns even when either text
// is empty. It returns the stored model turn and the resulting stats.
func (t *Transcript) Complete(userText, modelText string) (protocol.Turn, metadata.Stats) {
	t.mu.Lock()
	visible, stats := metadata.Extract(modelText, t.stats)
	if stats == t.stats && visible == modelText && modelText != "" {
		t.logger.Debug("model turn carried no metadata block")
	}
	body, correction := metadata.SplitCorrection(visible)
	model := protocol.Turn{Role: protocol.RoleModel, Text: body, Correction: correction}
	t.stats = stats
	t.turns = append(t.turns,
		protocol.Turn{Role: protocol.RoleUser, Text: strings.TrimSpace(userText)},
		model,
	)
	evt := t.snapshotLocked()
	t.mu.Unlock()

	if t.pub != nil {
		if err := t.pub.PublishTurn(evt); err != nil {
			t.logger.Warn("failed to publish turn", slog.String("error", err.Error()))
		}
	}
	return model, stats
}

// Turns returns a copy of the log.
func (t *Transcript) Turns() []protocol.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Turn(nil), t.turns...)
}

// Recent returns at most n of the latest turns; a negative n returns all.
func (t *Transcript) Recent(n int) []protocol.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := 0
	if n >= 0 && len(t.turns) > n {
		start = len(t.turns) - n
	}
	return append([]protocol.Turn(nil), t.turns[start:]...)
}

func (t *Transcript) snapshotLocked() protocol.TurnEvent {
	return protocol.TurnEvent{
		ConversationID: t.id,
		Timestamp:      t.clock().UTC(),
		Preview:        Preview(t.turns),
		Messages:       append([]protocol.Turn(nil), t.turns...),
		Stats:          t.stats,
		Source:         t.source,
	}
}

// Preview is the first non-empty user text, cut to a short label.
func Preview(turns []protocol.Turn) string {
	for _, turn := range turns {
		if turn.Role != protocol.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(turn.Text), " ")
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) <= previewRunes {
			return text
		}
		runes := []rune(text)
		return string(runes[:previewRunes]) + "..."
	}
	return "New conversation"
}
