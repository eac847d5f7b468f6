// Package recorder writes completed turns from the bus through to the
// conversation history.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/bus"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/history"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"github.com/nats-io/nats.go"
)

const saveTimeout = 5 * time.Second

// Saver is the part of the history store the recorder needs.
type Saver interface {
	Save(ctx context.Context, conv history.Conversation) error
}

type savedState struct {
	count int
	stats metadata.Stats
}

type Service struct {
	cfg    config.RecorderConfig
	bus    *bus.Client
	store  Saver
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	saved map[string]savedState
}

func NewService(parent context.Context, cfg config.RecorderConfig, busClient *bus.Client, store Saver, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		logger: logger.With(slog.String("component", "recorder")),
		ctx:    ctx,
		cancel: cancel,
		saved:  make(map[string]savedState),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTurnComplete, s.handleTurn)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

// handleTurn runs on the subscription goroutine, so saves for one
// conversation happen in publish order.
func (s *Service) handleTurn(msg *nats.Msg) {
	var evt protocol.TurnEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("recorder failed to decode turn event", slogError(err))
		return
	}
	if evt.ConversationID == "" {
		return
	}
	if !s.changed(evt) {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, saveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, history.FromEvent(evt)); err != nil {
		s.logger.Warn("failed to save conversation", slog.String("conversation_id", evt.ConversationID), slogError(err))
		return
	}

	s.mu.Lock()
	s.saved[evt.ConversationID] = savedState{count: len(evt.Messages), stats: evt.Stats}
	s.mu.Unlock()
	s.logger.Debug("conversation saved", slog.String("conversation_id", evt.ConversationID), slog.Int("messages", len(evt.Messages)))
}

func (s *Service) changed(evt protocol.TurnEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.saved[evt.ConversationID]
	return !ok || prev.count != len(evt.Messages) || prev.stats != evt.Stats
}

// Publisher announces completed turns on the bus.
type Publisher struct {
	bus      *bus.Client
	fallback Saver
	logger   *slog.Logger
}

// NewPublisher returns a publisher that writes conversations too large for
// one bus message straight to fallback. fallback may be nil, in which case
// such turns are reported as errors.
func NewPublisher(busClient *bus.Client, fallback Saver, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      busClient,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "turn-publisher")),
	}
}

func (p *Publisher) PublishTurn(evt protocol.TurnEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode turn event: %w", err)
	}
	limit := p.bus.MaxPayload()
	if int64(len(data)) <= limit {
		return p.bus.Conn().Publish(protocol.SubjectTurnComplete, data)
	}
	if p.fallback == nil {
		return fmt.Errorf("turn event of %d bytes exceeds bus limit of %d", len(data), limit)
	}
	p.logger.Info("conversation too large for the bus, saving directly",
		slog.String("conversation_id", evt.ConversationID),
		slog.Int("bytes", len(data)),
	)
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	return p.fallback.Save(ctx, history.FromEvent(evt))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
