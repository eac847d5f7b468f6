package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"google.golang.org/genai"
)

type geminiGenerator struct {
	client *genai.Client
	models []string
	logger *slog.Logger
}

// NewGeminiGenerator streams from the Gemini API. Models are tried in order;
// the next one is used only when a model fails before producing any text.
func NewGeminiGenerator(ctx context.Context, apiKey string, models []string, logger *slog.Logger) (Generator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if len(models) == 0 {
		return nil, errors.New("no gemini models configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{
		client: client,
		models: append([]string(nil), models...),
		logger: logger.With(slog.String("component", "gemini-generator")),
	}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	contents := geminiContents(req)
	cfg := geminiConfig(req)

	var errs []error
	for _, model := range g.models {
		emitted, err := g.stream(ctx, model, contents, cfg, req, consumer)
		if err == nil {
			return nil
		}
		if emitted || ctx.Err() != nil {
			return err
		}
		g.logger.Warn("gemini model failed, trying next", slog.String("model", model), slogError(err))
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
	}
	return fmt.Errorf("all gemini models failed: %w", errors.Join(errs...))
}

func (g *geminiGenerator) stream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, req Request, consumer func(Chunk) error) (bool, error) {
	start := time.Now()
	emitted := false
	var promptTokens, completionTokens int
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return emitted, err
		}
		if resp.UsageMetadata != nil {
			promptTokens = int(resp.UsageMetadata.PromptTokenCount)
			completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		emitted = true
		if err := consumer(Chunk{
			ConversationID: req.ConversationID,
			Content:        text,
			Partial:        true,
			Model:          model,
			Latency:        time.Since(start),
			TraceID:        req.TraceID,
		}); err != nil {
			return emitted, err
		}
	}
	if !emitted {
		return false, errors.New("empty response")
	}
	return true, consumer(Chunk{
		ConversationID:   req.ConversationID,
		Partial:          false,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}

func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		text := turn.Content()
		if text == "" {
			continue
		}
		role := "user"
		if turn.Role == protocol.RoleModel {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}})
	}
	var parts []*genai.Part
	if len(req.Audio) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.AudioMIME, Data: req.Audio}})
	}
	if strings.TrimSpace(req.Prompt) != "" {
		parts = append(parts, &genai.Part{Text: req.Prompt})
	}
	return append(contents, &genai.Content{Role: "user", Parts: parts})
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	for _, s := range req.Safety {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}
	return cfg
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
