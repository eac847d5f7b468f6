package metadata

import "testing"

func TestExtractWellFormedBlock(t *testing.T) {
	text := "hello [METADATA]\nMOOD: HAPPY\nBOND_SCORE: 42\nPRO_LEVEL: 7\n[/METADATA]"
	visible, stats := Extract(text, DefaultStats())
	if visible != "hello" {
		t.Fatalf("expected visible text %q, got %q", "hello", visible)
	}
	if stats.Mood != MoodHappy {
		t.Fatalf("expected mood HAPPY, got %q", stats.Mood)
	}
	if stats.BondScore != 42 {
		t.Fatalf("expected bond 42, got %d", stats.BondScore)
	}
	if stats.MasteryLevel != 7 {
		t.Fatalf("expected level 7, got %d", stats.MasteryLevel)
	}
}

func TestExtractWithoutBlockKeepsTextAndStats(t *testing.T) {
	prev := Stats{BondScore: 55, MasteryLevel: 12, Mood: MoodDeep}
	text := "  just chatting, no tags here \n"
	visible, stats := Extract(text, prev)
	if visible != text {
		t.Fatalf("expected text unchanged, got %q", visible)
	}
	if stats != prev {
		t.Fatalf("expected stats untouched, got %+v", stats)
	}
}

func TestExtractMalformedFieldsKeepPreviousValues(t *testing.T) {
	prev := Stats{BondScore: 30, MasteryLevel: 20, Mood: MoodConcerned}
	text := "ok [metadata]\nMOOD: GRUMPY\nBOND_SCORE: lots\nPRO_LEVEL: 25\n[/metadata]"
	visible, stats := Extract(text, prev)
	if visible != "ok" {
		t.Fatalf("unexpected visible text %q", visible)
	}
	if stats.Mood != MoodConcerned {
		t.Fatalf("unrecognized mood should keep last good value, got %q", stats.Mood)
	}
	if stats.BondScore != 30 {
		t.Fatalf("malformed bond should keep previous value, got %d", stats.BondScore)
	}
	if stats.MasteryLevel != 25 {
		t.Fatalf("expected level 25, got %d", stats.MasteryLevel)
	}
}

func TestExtractClampsScores(t *testing.T) {
	_, stats := Extract("[METADATA]\nBOND_SCORE: 250\nPRO_LEVEL: 0\n[/METADATA]", DefaultStats())
	if stats.BondScore != 100 || stats.MasteryLevel != 1 {
		t.Fatalf("expected clamped scores, got %+v", stats)
	}
}

func TestExtractUsesLastBlockAndRemovesAll(t *testing.T) {
	text := "a [METADATA]\nBOND_SCORE: 10\n[/METADATA] b [METADATA]\nBOND_SCORE: 20\n[/METADATA]"
	visible, stats := Extract(text, DefaultStats())
	if visible != "a  b" {
		t.Fatalf("unexpected visible text %q", visible)
	}
	if stats.BondScore != 20 {
		t.Fatalf("expected last block to win, got %d", stats.BondScore)
	}
}

func TestExtractUnclosedBlockIsAbsent(t *testing.T) {
	text := "thinking [METADATA]\nMOOD: HAPPY"
	visible, stats := Extract(text, DefaultStats())
	if visible != text {
		t.Fatalf("expected unclosed block to be left alone, got %q", visible)
	}
	if stats != DefaultStats() {
		t.Fatalf("expected default stats, got %+v", stats)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"  padded  ",
		"hello [METADATA]\nMOOD: HAPPY\n[/METADATA]",
		"[META[METADATA]x[/METADATA]DATA]\nMOOD: DEEP\n[/METADATA] tail",
		"[METADATA][/METADATA]",
		"x [METADATA] unclosed",
	}
	for _, in := range inputs {
		once, s1 := Extract(in, DefaultStats())
		twice, s2 := Extract(once, s1)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
		if s1 != s2 {
			t.Fatalf("stats changed on second pass for %q: %+v then %+v", in, s1, s2)
		}
	}
}

func TestParseMood(t *testing.T) {
	if m, ok := ParseMood(" romantic "); !ok || m != MoodRomantic {
		t.Fatalf("expected ROMANTIC, got %q %v", m, ok)
	}
	if _, ok := ParseMood("bored"); ok {
		t.Fatal("expected unknown mood to be rejected")
	}
}

func TestSplitCorrection(t *testing.T) {
	cases := []struct {
		in, body, correction string
	}{
		{"That sounds fun!", "That sounds fun!", ""},
		{"That sounds fun!\n\n[Coach's Corner]\n\"I goes\" should be \"I go\".", "That sounds fun!", "\"I goes\" should be \"I go\"."},
		{"[Coach's Corner] use \"went\"", "", "use \"went\""},
		{"ok [Coach's Corner]", "ok", ""},
	}
	for _, tc := range cases {
		body, correction := SplitCorrection(tc.in)
		if body != tc.body || correction != tc.correction {
			t.Fatalf("split %q: got %q / %q", tc.in, body, correction)
		}
		if tc.correction == "" {
			continue
		}
		b2, c2 := SplitCorrection(JoinCorrection(body, correction))
		if b2 != body || c2 != correction {
			t.Fatalf("join of %q / %q does not split back", body, correction)
		}
	}
}
