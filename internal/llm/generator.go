package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
)

// NewGenerator builds the backend selected by cfg.LLM.Mode.
func NewGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) (Generator, error) {
	switch cfg.LLM.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.LLM.Models, logger)
	case "ollama":
		return NewOllamaGenerator(cfg.LLM.Endpoint, cfg.LLM.Models), nil
	case "exec":
		return NewExecGenerator(cfg.LLM.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.LLM.Mode)
	}
}
