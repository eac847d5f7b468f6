// Package persona loads the companion persona: the system instruction, the
// voice, the moods the persona may report and the safety thresholds sent
// with every request.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona describes one companion persona.
type Persona struct {
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description,omitempty"`
	Voice             string            `yaml:"voice"`
	SystemInstruction string            `yaml:"system_instruction"`
	Moods             []string          `yaml:"moods,omitempty"`
	Safety            map[string]string `yaml:"safety,omitempty"`
}

// SafetySetting is one category/threshold pair as understood by the model
// API.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

var harmCategories = map[string]bool{
	"HARM_CATEGORY_HARASSMENT":        true,
	"HARM_CATEGORY_HATE_SPEECH":       true,
	"HARM_CATEGORY_SEXUALLY_EXPLICIT": true,
	"HARM_CATEGORY_DANGEROUS_CONTENT": true,
	"HARM_CATEGORY_CIVIC_INTEGRITY":   true,
}

var blockThresholds = map[string]bool{
	"BLOCK_NONE":             true,
	"BLOCK_LOW_AND_ABOVE":    true,
	"BLOCK_MEDIUM_AND_ABOVE": true,
	"BLOCK_ONLY_HIGH":        true,
	"OFF":                    true,
}

// Load reads a persona from disk.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	return Parse(data)
}

// Parse decodes a persona document.
func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona: %w", err)
	}
	return p, nil
}

// Default returns the built-in Hey Buddy persona.
func Default() Persona {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate ensures the persona contains required fields.
func Validate(p Persona) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.SystemInstruction) == "" {
		return fmt.Errorf("system_instruction is required")
	}
	for _, m := range p.Moods {
		if _, ok := metadata.ParseMood(m); !ok {
			return fmt.Errorf("moods: %q is not a known mood", m)
		}
	}
	for category, threshold := range p.Safety {
		if !harmCategories[category] {
			return fmt.Errorf("safety: unknown category %q", category)
		}
		if !blockThresholds[threshold] {
			return fmt.Errorf("safety.%s: unknown threshold %q", category, threshold)
		}
	}
	return nil
}

// SafetySettings returns the safety map as a list ordered by category.
func (p Persona) SafetySettings() []SafetySetting {
	out := make([]SafetySetting, 0, len(p.Safety))
	for category, threshold := range p.Safety {
		out = append(out, SafetySetting{Category: category, Threshold: threshold})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// ReportsStats reports whether the instruction asks the model for the
// metadata block.
func (p Persona) ReportsStats() bool {
	return strings.Contains(strings.ToUpper(p.SystemInstruction), "[METADATA]")
}
