package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/persona"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
)

// ErrAudioUnsupported is returned by backends that cannot take audio input.
var ErrAudioUnsupported = errors.New("llm backend does not accept audio input")

// Request describes one chat completion.
type Request struct {
	ConversationID string
	Prompt         string
	System         string
	History        []protocol.Turn
	// Audio is an optional recorded clip sent alongside or instead of Prompt.
	Audio       []byte
	AudioMIME   string
	Safety      []persona.SafetySetting
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output. Content is a delta; the last chunk
// has Partial false.
type Chunk struct {
	ConversationID   string
	Content          string
	Partial          bool
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config and the persona.
func OptionsFromConfig(cfg config.LLMConfig, p persona.Persona) Request {
	return Request{
		System:      p.SystemInstruction,
		Safety:      p.SafetySettings(),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// Collect runs a generation to completion and returns the full text and the
// model that produced it.
func Collect(ctx context.Context, g Generator, req Request) (string, string, error) {
	var (
		sb    strings.Builder
		model string
	)
	err := g.Generate(ctx, req, func(c Chunk) error {
		sb.WriteString(c.Content)
		if c.Model != "" {
			model = c.Model
		}
		return nil
	})
	if err != nil {
		return "", model, err
	}
	return sb.String(), model, nil
}
