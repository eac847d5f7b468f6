package conversation

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturePublisher struct {
	events []protocol.TurnEvent
	err    error
}

func (p *capturePublisher) PublishTurn(evt protocol.TurnEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

func TestCompleteAppliesMetadata(t *testing.T) {
	pub := &capturePublisher{}
	tr := New(protocol.SourceLive, pub, newLogger())

	model, stats := tr.Complete("I goes to school", "hello [METADATA]\nMOOD: HAPPY\nBOND_SCORE: 42\nPRO_LEVEL: 7\n[/METADATA]")
	if model.Text != "hello" || model.Correction != "" {
		t.Fatalf("unexpected model turn %+v", model)
	}
	if stats.Mood != metadata.MoodHappy || stats.BondScore != 42 || stats.MasteryLevel != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	turns := tr.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != protocol.RoleUser || turns[1].Role != protocol.RoleModel {
		t.Fatalf("unexpected roles %+v", turns)
	}
	if turns[1].Text != "hello" {
		t.Fatalf("metadata stored with model turn: %q", turns[1].Text)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.events))
	}
	evt := pub.events[0]
	if evt.ConversationID != tr.ID() || evt.Preview != "I goes to school" || len(evt.Messages) != 2 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Source != protocol.SourceLive {
		t.Fatalf("unexpected source %q", evt.Source)
	}
}

func TestCompleteWithoutBlockKeepsStats(t *testing.T) {
	tr := New(protocol.SourceChat, nil, newLogger())
	tr.Complete("hi", "[METADATA]MOOD: DEEP\nBOND_SCORE: 10[/METADATA]")
	_, stats := tr.Complete("and?", "just text")
	if stats.Mood != metadata.MoodDeep || stats.BondScore != 10 {
		t.Fatalf("stats changed without a block: %+v", stats)
	}
}

func TestCompleteSplitsCorrection(t *testing.T) {
	pub := &capturePublisher{}
	tr := New(protocol.SourceChat, pub, newLogger())
	model, _ := tr.Complete("I goes to school", "Nice!\n\n[Coach's Corner]\n\"I goes\" should be \"I go\".[METADATA]MOOD: HAPPY[/METADATA]")
	if model.Text != "Nice!" || model.Correction != "\"I goes\" should be \"I go\"." {
		t.Fatalf("unexpected model turn %+v", model)
	}
	saved := pub.events[0].Messages[1]
	if saved != model {
		t.Fatalf("published turn %+v differs from %+v", saved, model)
	}
}

func TestEmptyTurnIsAppended(t *testing.T) {
	tr := New(protocol.SourceLive, nil, newLogger())
	tr.Complete("", "")
	turns := tr.Turns()
	if len(turns) != 2 || turns[0].Text != "" || turns[1].Text != "" {
		t.Fatalf("expected two empty turns, got %+v", turns)
	}
}

func TestPublishErrorDoesNotLoseTurn(t *testing.T) {
	tr := New(protocol.SourceChat, &capturePublisher{err: errors.New("bus down")}, newLogger())
	tr.Complete("a", "b")
	if len(tr.Turns()) != 2 {
		t.Fatalf("turn lost on publish failure")
	}
}

func TestResumeAndRecent(t *testing.T) {
	saved := []protocol.Turn{
		{Role: protocol.RoleUser, Text: "one"},
		{Role: protocol.RoleModel, Text: "two"},
	}
	tr := Resume("abc", saved, metadata.Stats{BondScore: 5, MasteryLevel: 6, Mood: metadata.MoodHappy}, protocol.SourceChat, nil, newLogger())
	_, stats := tr.Complete("three", "four")
	if tr.ID() != "abc" {
		t.Fatalf("unexpected id %q", tr.ID())
	}
	recent := tr.Recent(3)
	if len(recent) != 3 || recent[0].Text != "two" || recent[2].Text != "four" {
		t.Fatalf("unexpected recent turns %+v", recent)
	}
	if all := tr.Recent(-1); len(all) != 4 {
		t.Fatalf("expected every turn, got %d", len(all))
	}
	if stats.BondScore != 5 {
		t.Fatalf("resumed stats lost")
	}
	saved[0].Text = "mutated"
	if tr.Turns()[0].Text != "one" {
		t.Fatalf("resume must copy turns")
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("ব", 80)
	cases := []struct {
		turns []protocol.Turn
		want  string
	}{
		{nil, "New conversation"},
		{[]protocol.Turn{{Role: protocol.RoleModel, Text: "hi"}, {Role: protocol.RoleUser, Text: "  hello\n there "}}, "hello there"},
		{[]protocol.Turn{{Role: protocol.RoleUser, Text: ""}, {Role: protocol.RoleUser, Text: "second"}}, "second"},
		{[]protocol.Turn{{Role: protocol.RoleUser, Text: long}}, strings.Repeat("ব", 60) + "..."},
	}
	for i, tc := range cases {
		if got := Preview(tc.turns); got != tc.want {
			t.Fatalf("case %d: got %q want %q", i, got, tc.want)
		}
	}
}
