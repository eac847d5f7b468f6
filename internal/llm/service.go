package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/bus"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/persona"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultTimeout = 60 * time.Second

// Service answers chat requests on the bus.
type Service struct {
	cfg       config.LLMConfig
	persona   persona.Persona
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, p persona.Persona, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		persona:   p,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectChatRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe chat requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS > 0 {
		return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	}
	return defaultTimeout
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ChatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode chat request", slogError(err))
		_ = bus.RespondJSON(msg, protocol.ChatReply{Error: "invalid request", Timestamp: time.Now().UTC()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply := s.answer(req)
		if err := bus.RespondJSON(msg, reply); err != nil {
			s.logger.Warn("failed to send chat reply", slogError(err))
		}
	}()
}

func (s *Service) answer(req protocol.ChatRequest) protocol.ChatReply {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()
	ctx, span := otel.Tracer("github.com/Anukul-Chandra/Hey-Buddy/llm").Start(ctx, "chat.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.Int("history.turns", len(req.History)),
		attribute.Bool("audio", len(req.Audio) > 0),
	)

	options := OptionsFromConfig(s.cfg, s.persona)
	options.ConversationID = req.ConversationID
	options.Prompt = req.Text
	options.History = trimHistory(req.History, s.cfg.HistoryTurns)
	options.Audio = req.Audio
	options.AudioMIME = req.AudioMIME
	options.TraceID = req.TraceID
	if req.Temperature != 0 {
		options.Temperature = req.Temperature
	}

	start := time.Now()
	text, model, err := Collect(ctx, s.generator, options)
	reply := protocol.ChatReply{
		ConversationID: req.ConversationID,
		Model:          model,
		LatencyMS:      time.Since(start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("chat generation failed", slogError(err))
		reply.Error = "generation failed"
		if errors.Is(err, ErrAudioUnsupported) {
			reply.Error = err.Error()
		}
		return reply
	}
	reply.Text = text
	span.SetAttributes(attribute.String("model", model))
	s.logger.Info("chat generation complete", slog.String("model", model), slog.Duration("latency", time.Since(start)))
	return reply
}

func trimHistory(turns []protocol.Turn, limit int) []protocol.Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}

// Client sends chat requests to the Service over the bus.
type Client struct {
	bus     *bus.Client
	timeout time.Duration
}

func NewClient(busClient *bus.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{bus: busClient, timeout: timeout}
}

// Chat returns the raw reply text, metadata block included.
func (c *Client) Chat(ctx context.Context, req protocol.ChatRequest) (protocol.ChatReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var reply protocol.ChatReply
	if err := c.bus.RequestJSON(ctx, protocol.SubjectChatRequest, req, &reply); err != nil {
		return reply, err
	}
	if reply.Error != "" {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
