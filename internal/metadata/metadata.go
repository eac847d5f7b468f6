// Package metadata extracts the hidden relationship stats block that the
// companion persona appends to every reply.
//
// The block looks like:
//
//	[METADATA]
//	MOOD: HAPPY
//	BOND_SCORE: 42
//	PRO_LEVEL: 7
//	[/METADATA]
//
// Extraction is best effort: a missing or malformed field keeps the previous
// value and never produces an error.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

// Mood is the closed set of moods the persona may report.
type Mood string

const (
	MoodRomantic  Mood = "ROMANTIC"
	MoodDeep      Mood = "DEEP"
	MoodHappy     Mood = "HAPPY"
	MoodConcerned Mood = "CONCERNED"
	MoodNeutral   Mood = "NEUTRAL"
)

// Moods lists every recognized mood.
var Moods = []Mood{MoodRomantic, MoodDeep, MoodHappy, MoodConcerned, MoodNeutral}

// ParseMood maps a token case-insensitively onto a Mood. The boolean is false
// for unrecognized tokens.
func ParseMood(token string) (Mood, bool) {
	candidate := Mood(strings.ToUpper(strings.TrimSpace(token)))
	for _, m := range Moods {
		if m == candidate {
			return m, true
		}
	}
	return "", false
}

const (
	minScore = 1
	maxScore = 100
)

// Stats is the relationship state shown next to the chat.
type Stats struct {
	BondScore    int  `json:"bond_score"`
	MasteryLevel int  `json:"mastery_level"`
	Mood         Mood `json:"mood"`
}

// DefaultStats is the state of a fresh conversation.
func DefaultStats() Stats {
	return Stats{BondScore: minScore, MasteryLevel: minScore, Mood: MoodNeutral}
}

var (
	blockPattern   = regexp.MustCompile(`(?is)\[METADATA\](.*?)\[/METADATA\]`)
	moodPattern    = regexp.MustCompile(`(?im)^\s*MOOD\s*:\s*([A-Za-z_]+)`)
	bondPattern    = regexp.MustCompile(`(?im)^\s*BOND_SCORE\s*:\s*(-?\d+)`)
	masteryPattern = regexp.MustCompile(`(?im)^\s*(?:PRO_LEVEL|MASTERY_LEVEL|LEVEL)\s*:\s*(-?\d+)`)
)

// Extract removes every complete metadata block from text and applies the
// fields of the last block on top of prev. Without a block the text is
// returned unchanged and prev is returned as is.
func Extract(text string, prev Stats) (string, Stats) {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, prev
	}

	next := apply(matches[len(matches)-1][1], prev)

	visible := text
	for blockPattern.MatchString(visible) {
		visible = blockPattern.ReplaceAllString(visible, "")
	}
	return strings.TrimSpace(visible), next
}

// Strip returns text without metadata blocks.
func Strip(text string) string {
	visible, _ := Extract(text, Stats{})
	return visible
}

func apply(body string, stats Stats) Stats {
	if m := moodPattern.FindStringSubmatch(body); m != nil {
		if mood, ok := ParseMood(m[1]); ok {
			stats.Mood = mood
		}
	}
	if v, ok := parseScore(bondPattern, body); ok {
		stats.BondScore = v
	}
	if v, ok := parseScore(masteryPattern, body); ok {
		stats.MasteryLevel = v
	}
	return stats
}

func parseScore(pattern *regexp.Regexp, body string) (int, bool) {
	m := pattern.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return clamp(v), true
}

func clamp(v int) int {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// CoachMarker introduces the grammar correction the persona appends after its
// reply when the learner made a mistake.
const CoachMarker = "[Coach's Corner]"

// SplitCorrection splits text at the first coach marker into the reply body
// and the correction. Without a marker the trimmed text is the body and the
// correction is empty.
func SplitCorrection(text string) (body, correction string) {
	before, after, found := strings.Cut(text, CoachMarker)
	if !found {
		return strings.TrimSpace(text), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// JoinCorrection rebuilds the text SplitCorrection was given.
func JoinCorrection(body, correction string) string {
	if correction == "" {
		return body
	}
	if body == "" {
		return CoachMarker + "\n" + correction
	}
	return body + "\n\n" + CoachMarker + "\n" + correction
}
