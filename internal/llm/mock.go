package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && len(req.Audio) > 0 {
		prompt = "audio clip"
	}
	content := "[mock reply to " + prompt + "]\n[METADATA]\nMOOD: HAPPY\nBOND_SCORE: 2\nPRO_LEVEL: 2\n[/METADATA]"
	return consumer(Chunk{
		ConversationID: req.ConversationID,
		Content:        content,
		Partial:        false,
		Model:          "mock",
		Latency:        20 * time.Millisecond,
		TraceID:        req.TraceID,
	})
}
