package tts

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
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	defaultTimeout = 45 * time.Second
	maxPieceBytes  = 256 * 1024
)

// ErrEmptyAudio is reported when synthesis finished without producing PCM.
var ErrEmptyAudio = errors.New("tts produced no audio")

// Service answers speech requests on the bus by streaming the rendition to
// the requester's reply inbox.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

// NewSynthesizer builds the synthesizer selected by cfg.Mode.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels, time.Duration(cfg.ChunkDurationMS)*time.Millisecond), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate, cfg.Channels)
	case "http":
		return NewHTTPSynth(cfg.Endpoint, cfg.Voice, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe tts requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS > 0 {
		return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	}
	return defaultTimeout
}

func (s *Service) handleRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		s.logger.Warn("tts request without reply subject")
		return
	}
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		s.fail(msg.Reply, "invalid request")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.render(msg.Reply, req)
	}()
}

func (s *Service) render(reply string, req protocol.TTSRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()

	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	start := time.Now()
	total, err := s.forward(ctx, reply, SynthRequest{Text: req.Text, Voice: voice})
	if err != nil {
		s.logger.Warn("tts synthesis error", slogError(err), slog.Int("bytes_sent", total))
		s.fail(reply, "synthesis failed")
		return
	}
	s.logger.Info("tts synthesis complete",
		slog.Int("bytes", total),
		slog.Duration("latency", time.Since(start)),
	)
}

func (s *Service) fail(reply, reason string) {
	if err := s.bus.PublishJSON(reply, protocol.TTSChunk{Error: reason}); err != nil {
		s.logger.Warn("failed to send tts error", slogError(err))
	}
}

// pieceSize bounds the audio carried by one chunk. Base64 grows it by a
// third, so half the server's payload limit leaves room for the envelope.
func (s *Service) pieceSize() int {
	size := maxPieceBytes
	if limit := int(s.bus.MaxPayload() / 2); limit > 0 && limit < size {
		size = limit
	}
	return size
}

// forward relays the synthesis to reply as numbered chunks. The newest chunk
// is held back until the synthesizer finishes so it can be marked final.
func (s *Service) forward(ctx context.Context, reply string, req SynthRequest) (int, error) {
	chunks, errs := s.synth.Synthesize(ctx, req)
	size := s.pieceSize()
	var (
		pending *protocol.TTSChunk
		seq     int
		total   int
	)
	emit := func(c protocol.TTSChunk) error {
		if pending != nil {
			if err := s.bus.PublishJSON(reply, *pending); err != nil {
				return err
			}
		}
		c.Sequence = seq
		seq++
		pending = &c
		return nil
	}
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			for data := chunk.PCM; len(data) > 0; {
				n := min(size, len(data))
				err := emit(protocol.TTSChunk{
					PCM:        data[:n],
					SampleRate: chunk.SampleRate,
					Channels:   chunk.Channels,
					MIMEType:   chunk.MIMEType,
				})
				if err != nil {
					return total, err
				}
				total += n
				data = data[n:]
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return total, err
			}
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	if pending == nil {
		return 0, ErrEmptyAudio
	}
	pending.Final = true
	return total, s.bus.PublishJSON(reply, *pending)
}

// Client sends speech requests to the Service over the bus and reassembles
// the streamed reply.
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

func (c *Client) Synthesize(ctx context.Context, req protocol.TTSRequest) (protocol.TTSReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var reply protocol.TTSReply
	next := 0
	err := c.bus.RequestStream(ctx, protocol.SubjectTTSRequest, req, func(data []byte) (bool, error) {
		var chunk protocol.TTSChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return false, fmt.Errorf("decode tts chunk: %w", err)
		}
		if chunk.Error != "" {
			return false, errors.New(chunk.Error)
		}
		if chunk.Sequence != next {
			return false, fmt.Errorf("tts chunk %d arrived, expected %d", chunk.Sequence, next)
		}
		next++
		reply.PCM = append(reply.PCM, chunk.PCM...)
		reply.SampleRate = chunk.SampleRate
		reply.Channels = chunk.Channels
		reply.MIMEType = chunk.MIMEType
		return chunk.Final, nil
	})
	if err != nil {
		return protocol.TTSReply{}, err
	}
	return reply, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
