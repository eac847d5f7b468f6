// Package gemini connects live sessions to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/live"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// session is the part of *genai.Session the connection uses.
type session interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (session, error)

// Dialer opens Gemini Live sessions.
type Dialer struct {
	connect connectFunc
	logger  *slog.Logger
}

func NewDialer(ctx context.Context, apiKey string, logger *slog.Logger) (*Dialer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key missing")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	connect := func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (session, error) {
		sess, err := client.Live.Connect(ctx, model, cfg)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return newDialer(connect, logger), nil
}

func newDialer(connect connectFunc, logger *slog.Logger) *Dialer {
	return &Dialer{connect: connect, logger: logger.With(slog.String("component", "gemini-live"))}
}

func (d *Dialer) Dial(ctx context.Context, cfg live.ConnectConfig, h live.Handlers) (live.Conn, error) {
	if len(cfg.Safety) > 0 {
		d.logger.Debug("live sessions do not accept safety settings, ignoring", slog.Int("settings", len(cfg.Safety)))
	}
	sess, err := d.connect(ctx, cfg.Model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Model, err)
	}
	c := &conn{session: sess, handlers: h, logger: d.logger}
	go c.receive()
	return c, nil
}

func connectConfig(cfg live.ConnectConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	for _, m := range cfg.ResponseModalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(m))
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	return out
}

type conn struct {
	session  session
	handlers live.Handlers
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *conn) Send(blob pcm.Blob) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: blob.MIMEType, Data: blob.Data},
	})
}

// Close ends the session without waiting for the receive loop.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.session.Close()
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) receive() {
	for {
		msg, err := c.session.Receive()
		if err != nil {
			switch {
			case c.isClosed():
			case normalClosure(err):
				call0(c.handlers.OnClose)
			default:
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
			return
		}
		if msg.SetupComplete != nil {
			call0(c.handlers.OnOpen)
		}
		if c.handlers.OnMessage == nil {
			continue
		}
		for _, ev := range eventsFrom(msg) {
			if c.isClosed() {
				return
			}
			c.handlers.OnMessage(ev)
		}
	}
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}

func normalClosure(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

// eventsFrom flattens one server message into live events.
func eventsFrom(msg *genai.LiveServerMessage) []live.Event {
	content := msg.ServerContent
	if content == nil {
		return nil
	}
	var events []live.Event
	if t := content.InputTranscription; t != nil && t.Text != "" {
		events = append(events, live.InputTranscript{Text: t.Text})
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" {
		events = append(events, live.OutputTranscript{Text: t.Text})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, live.AudioData{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
		}
	}
	if content.Interrupted {
		events = append(events, live.Interrupted{})
	}
	if content.TurnComplete {
		events = append(events, live.TurnComplete{})
	}
	return events
}
