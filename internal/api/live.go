package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/conversation"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/live"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/playback"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout      = 5 * time.Second
	defaultMicRate    = 48000
	clipUserText      = "[voice message]"
	maxFrameBytes     = 1 << 20
	errLiveDisabled   = "live sessions are disabled"
	errRecordingBusy  = "a recording is already in progress"
	errMicrophoneBusy = "microphone is busy"
)

var errClientGone = errors.New("client disconnected")

// clientMessage is a JSON text frame from the browser. Binary frames carry
// microphone samples as little-endian float32.
type clientMessage struct {
	Type       string `json:"type"`
	Granted    bool   `json:"granted,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	WindowMS   int    `json:"window_ms,omitempty"`
	ID         uint64 `json:"id,omitempty"`
}

type serverMessage struct {
	Type           string          `json:"type"`
	State          string          `json:"state,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Message        string          `json:"message,omitempty"`
	ID             uint64          `json:"id,omitempty"`
	Data           string          `json:"data,omitempty"`
	SampleRate     int             `json:"sample_rate,omitempty"`
	AtMS           float64         `json:"at_ms,omitempty"`
	User           string          `json:"user,omitempty"`
	Reply          string          `json:"reply,omitempty"`
	Correction     string          `json:"correction,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Stats          *metadata.Stats `json:"stats,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	c := s.newLiveClient(ws)
	c.serve()
}

// liveClient bridges one browser connection to a live.Manager. The browser
// owns the real microphone and speaker; the client stands in for both.
type liveClient struct {
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu      sync.Mutex
	onFrame func([]float32)
	owner   *wsCapture
	// perms holds the pending microphone prompts by request id; permSeq is
	// the newest id handed out.
	perms   map[uint64]chan clientMessage
	permSeq uint64

	recording  atomic.Bool
	transcript *conversation.Transcript
	manager    *live.Manager
}

func (s *Server) newLiveClient(ws *websocket.Conn) *liveClient {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &liveClient{
		server: s,
		ws:     ws,
		logger: s.logger.With(slog.String("client_id", id)),
		ctx:    ctx,
		cancel: cancel,
		perms:  make(map[uint64]chan clientMessage),
	}
	c.transcript = conversation.New(protocol.SourceLive, s.opts.Publisher, c.logger)
	if s.opts.Live.Dialer != nil {
		c.manager = live.NewManager(s.opts.Live.Session, live.Deps{
			Microphone: c,
			Speaker:    c,
			Dialer:     s.opts.Live.Dialer,
			Sink:       c,
			Listener:   c,
		}, c.logger)
	}
	return c
}

func (c *liveClient) serve() {
	c.logger.Info("live client connected")
	ws := c.ws
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		c.cancel()
		if c.manager != nil {
			c.manager.Disconnect()
		}
		c.wg.Wait()
		_ = ws.Close()
		c.logger.Info("live client disconnected")
	}()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("live client read ended", slogError(err))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			c.deliverFrame(data)
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("bad-request", "invalid message")
				continue
			}
			c.handleMessage(msg)
		}
	}
}

func (c *liveClient) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "connect":
		if c.manager == nil {
			c.sendError("unavailable", errLiveDisabled)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.manager.Connect(c.ctx)
			var lerr *live.Error
			if err != nil && !errors.Is(err, live.ErrCanceled) && !errors.As(err, &lerr) {
				c.sendError(string(live.ErrTransport), "connection failed")
			}
		}()
	case "disconnect":
		if c.manager != nil {
			c.manager.Disconnect()
		}
	case "permission":
		c.answerPermission(msg)
	case "record":
		c.record(msg)
	case "played":
		c.logger.Debug("client finished chunk", slog.Uint64("chunk_id", msg.ID))
	default:
		c.sendError("bad-request", "unknown message type")
	}
}

func (c *liveClient) deliverFrame(data []byte) {
	if len(data)%4 != 0 {
		c.logger.Debug("dropping misaligned frame", slog.Int("bytes", len(data)))
		return
	}
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn == nil {
		return
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	fn(samples)
}

func (c *liveClient) record(msg clientMessage) {
	if !c.recording.CompareAndSwap(false, true) {
		c.sendError("busy", errRecordingBusy)
		return
	}
	window := c.server.opts.Live.ClipWindow
	if msg.WindowMS > 0 {
		window = time.Duration(msg.WindowMS) * time.Millisecond
	}
	if limit := c.server.opts.Live.MaxClipWindow; window > limit {
		c.logger.Debug("clip window cut", slog.Duration("asked", window), slog.Duration("limit", limit))
		window = limit
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recording.Store(false)
		c.recordClip(window)
	}()
}

func (c *liveClient) recordClip(window time.Duration) {
	clip, err := live.RecordClip(c.ctx, c, window)
	if err != nil {
		var lerr *live.Error
		switch {
		case errors.As(err, &lerr):
			c.sendError(string(lerr.Kind), lerr.Message())
		case errors.Is(err, live.ErrEmptyClip):
			c.sendError("empty-clip", "no audio was captured")
		case c.ctx.Err() != nil:
		default:
			c.sendError("recording", "recording failed")
		}
		return
	}
	wav, err := pcm.WAVBytes(clip.Data, pcm.CaptureSampleRate, 1)
	if err != nil {
		c.logger.Warn("failed to encode clip", slogError(err))
		c.sendError("recording", "recording failed")
		return
	}
	c.send(serverMessage{Type: "state", State: "thinking"})
	reply, err := c.server.opts.Chat.Chat(c.ctx, protocol.ChatRequest{
		ConversationID: c.transcript.ID(),
		History:        c.server.history(c.transcript),
		Audio:          wav,
		AudioMIME:      "audio/wav",
	})
	if err != nil {
		c.logger.Warn("clip chat failed", slogError(err))
		c.sendError("chat", "AI response failed.")
		return
	}
	model, stats := c.transcript.Complete(clipUserText, reply.Text)
	c.send(serverMessage{
		Type:           "clip_reply",
		Reply:          model.Text,
		Correction:     model.Correction,
		ConversationID: c.transcript.ID(),
		Stats:          &stats,
	})
}

func (c *liveClient) send(msg serverMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("failed to write to live client", slog.String("type", msg.Type), slogError(err))
	}
}

func (c *liveClient) sendError(kind, message string) {
	c.send(serverMessage{Type: "error", Kind: kind, Message: message})
}

// Acquire asks the browser for microphone access and waits for the answer.
// Each prompt carries its own id so an answer meant for an abandoned attempt
// never satisfies a newer one.
func (c *liveClient) Acquire(ctx context.Context) (live.Capture, error) {
	c.mu.Lock()
	c.permSeq++
	id := c.permSeq
	answer := make(chan clientMessage, 1)
	c.perms[id] = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.perms, id)
		c.mu.Unlock()
	}()
	c.send(serverMessage{Type: "permission_request", ID: id})

	timer := time.NewTimer(c.server.opts.Live.PermissionTimeout)
	defer timer.Stop()
	select {
	case msg := <-answer:
		if !msg.Granted {
			return nil, errors.New("microphone permission denied")
		}
		rate := msg.SampleRate
		if rate <= 0 {
			rate = defaultMicRate
		}
		return &wsCapture{client: c, rate: rate}, nil
	case <-timer.C:
		return nil, errors.New("microphone permission timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errClientGone
	}
}

// answerPermission routes a permission answer to the prompt it names. An
// answer without an id goes to the newest prompt.
func (c *liveClient) answerPermission(msg clientMessage) {
	c.mu.Lock()
	id := msg.ID
	if id == 0 {
		id = c.permSeq
	}
	answer, ok := c.perms[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("permission answer without a pending prompt", slog.Uint64("id", msg.ID))
		return
	}
	select {
	case answer <- msg:
	default:
	}
}

// wsCapture receives frames from the browser. One capture at a time may own
// the client's frame stream.
type wsCapture struct {
	client *liveClient
	rate   int
}

func (w *wsCapture) SampleRate() int { return w.rate }

func (w *wsCapture) Start(onFrame func([]float32)) error {
	c := w.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != nil && c.owner != w {
		return errors.New(errMicrophoneBusy)
	}
	c.owner = w
	c.onFrame = onFrame
	return nil
}

func (w *wsCapture) Stop() {
	c := w.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == w {
		c.owner = nil
		c.onFrame = nil
	}
}

// Open starts a playback context whose clock is the server's wall clock. The
// browser schedules each chunk at its at_ms offset.
func (c *liveClient) Open(rate int) (live.PlaybackContext, error) {
	c.logger.Debug("opening remote playback", slog.Int("sample_rate", rate))
	p := &wsPlayback{WallClock: playback.NewWallClock(), client: c}
	p.out = playback.NewTimedOutput(p.WallClock, p.sendChunk)
	return p, nil
}

// StateChanged forwards lifecycle changes to the browser.
func (c *liveClient) StateChanged(s live.State) {
	c.send(serverMessage{Type: "state", State: s.String()})
}

func (c *liveClient) Failed(err *live.Error) {
	c.sendError(string(err.Kind), err.Message())
}

// CompleteTurn appends the turn to the client's conversation and echoes it.
func (c *liveClient) CompleteTurn(userText, modelText string) {
	model, stats := c.transcript.Complete(userText, modelText)
	c.send(serverMessage{
		Type:           "turn",
		User:           userText,
		Reply:          model.Text,
		Correction:     model.Correction,
		ConversationID: c.transcript.ID(),
		Stats:          &stats,
	})
}

type wsPlayback struct {
	*playback.WallClock
	out    *playback.TimedOutput
	client *liveClient

	mu     sync.Mutex
	closed bool
	lastID uint64
}

func (p *wsPlayback) Start(chunk pcm.Chunk, at time.Duration, ended func()) (playback.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("playback closed")
	}
	src, err := p.out.Start(chunk, at, ended)
	if err != nil {
		return nil, err
	}
	return &wsSource{Source: src, client: p.client, id: p.lastID}, nil
}

// sendChunk runs inside Start with p.mu held.
func (p *wsPlayback) sendChunk(id uint64, chunk pcm.Chunk, at time.Duration) error {
	p.lastID = id
	blob := pcm.Blob{Data: pcm.Quantize(chunk.Samples)}
	p.client.send(serverMessage{
		Type:       "audio",
		ID:         id,
		Data:       blob.Base64(),
		SampleRate: chunk.SampleRate,
		AtMS:       float64(at) / float64(time.Millisecond),
	})
	return nil
}

func (p *wsPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// wsSource tells the browser to drop a chunk when playback is interrupted.
type wsSource struct {
	playback.Source
	client *liveClient
	id     uint64
}

func (s *wsSource) Stop() {
	s.Source.Stop()
	s.client.send(serverMessage{Type: "interrupt", ID: s.id})
}
