// Package live owns the bidirectional audio session with the remote model:
// microphone frames go out as realtime input, response audio is decoded and
// scheduled for playback, and transcripts are collected into turns.
package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/playback"
)

// Config holds per-session settings.
type Config struct {
	Connect ConnectConfig
	// OutputRate is the playback context rate.
	OutputRate int
	// InputRate is assumed for inbound audio without a rate parameter.
	InputRate int
	// QueueSize bounds the frames held while the connection is opening.
	QueueSize int
}

// Deps are the collaborators of a Manager. Sink and Listener are optional.
type Deps struct {
	Microphone Microphone
	Speaker    Speaker
	Dialer     Dialer
	Sink       TurnSink
	Listener   Listener
}

// sessionHandle is everything one session attempt acquired. Fields are only
// touched with the manager lock held.
type sessionHandle struct {
	// cancel ends the attempt's context, releasing a pending permission
	// prompt or dial.
	cancel context.CancelFunc
	// err is the failure that ended the attempt, if any.
	err error

	conn      Conn
	opened    bool
	capture   Capture
	encoder   *pcm.Encoder
	playback  PlaybackContext
	scheduler *playback.Scheduler
	queue     *frameQueue

	userText  strings.Builder
	modelText strings.Builder
}

func (s *sessionHandle) ready() bool {
	return s.opened && s.conn != nil
}

// outcome is what Connect reports once the attempt was torn down under it.
// Callers hold the manager lock.
func (s *sessionHandle) outcome() error {
	if s.err != nil {
		return s.err
	}
	return ErrCanceled
}

// Manager runs at most one live session at a time.
type Manager struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	state State
	gen   uint64
	sess  *sessionHandle

	logger  *slog.Logger
	metrics *metrics
}

func NewManager(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = pcm.OutputSampleRate
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = pcm.OutputSampleRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger = logger.With(slog.String("component", "live-session"))
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: newMetrics(logger),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a session. When a session is already active or being set up
// it is torn down instead and Connect returns nil.
//
// Connect blocks while the microphone permission is pending and while the
// connection is dialed. Both waits run under a context that teardown cancels.
// A Disconnect during either wait makes Connect return ErrCanceled; failures,
// including one reported by the connection while it was still being dialed,
// are returned as *Error after teardown.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.disconnectLocked()
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	attempt, cancel := context.WithCancel(ctx)
	sess := &sessionHandle{cancel: cancel, queue: newFrameQueue(m.cfg.QueueSize)}
	m.sess = sess
	m.setStateLocked(StateRequestingPermission)
	m.mu.Unlock()

	capture, err := m.deps.Microphone.Acquire(attempt)

	m.mu.Lock()
	if m.gen != gen {
		out := sess.outcome()
		m.mu.Unlock()
		if capture != nil {
			capture.Stop()
		}
		return out
	}
	if err != nil {
		defer m.mu.Unlock()
		return m.failLocked(ErrPermissionDenied, err)
	}
	sess.capture = capture
	m.setStateLocked(StateOpening)

	pb, err := m.deps.Speaker.Open(m.cfg.OutputRate)
	if err != nil {
		defer m.mu.Unlock()
		return m.failLocked(ErrAudioDevice, err)
	}
	sess.playback = pb
	sess.scheduler = playback.NewScheduler(pb, pb)
	sess.encoder = pcm.NewEncoder(capture.SampleRate())
	if err := capture.Start(m.frameHandler(gen)); err != nil {
		defer m.mu.Unlock()
		return m.failLocked(ErrAudioDevice, err)
	}
	m.mu.Unlock()

	conn, err := m.deps.Dialer.Dial(attempt, m.cfg.Connect, m.handlers(gen))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		if conn != nil {
			_ = conn.Close()
		}
		return sess.outcome()
	}
	if err != nil {
		return m.failLocked(ErrTransport, err)
	}
	sess.conn = conn
	if sess.opened {
		m.flushLocked(sess)
	}
	return nil
}

// Disconnect tears down the active session, if any. It is safe to call in
// any state and any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	if m.state == StateIdle && m.sess == nil {
		return
	}
	m.setStateLocked(StateClosing)
	m.teardownLocked()
	m.setStateLocked(StateIdle)
}

func (m *Manager) handlers(gen uint64) Handlers {
	return Handlers{
		OnOpen: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen != gen {
				return
			}
			m.sess.opened = true
			m.setStateLocked(StateOpen)
			m.metrics.inc(m.metrics.sessions)
			m.flushLocked(m.sess)
		},
		OnMessage: func(ev Event) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen != gen {
				return
			}
			m.handleEventLocked(m.sess, ev)
		},
		OnError: func(err error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen != gen {
				return
			}
			_ = m.failLocked(ErrTransport, err)
		},
		OnClose: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen != gen {
				return
			}
			m.logger.Info("live session closed by remote")
			m.disconnectLocked()
		},
	}
}

func (m *Manager) frameHandler(gen uint64) func([]float32) {
	return func(samples []float32) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		sess := m.sess
		blob := sess.encoder.Encode(samples)
		if len(blob.Data) == 0 {
			return
		}
		if sess.ready() {
			m.sendLocked(sess, blob)
			return
		}
		if !sess.queue.Push(blob) {
			m.metrics.inc(m.metrics.framesDropped)
			m.logger.Warn("pre-open frame queue full, dropped oldest frame", slog.Int("limit", m.cfg.QueueSize))
		}
	}
}

// flushLocked sends queued frames once both the open signal and the
// connection handle are present.
func (m *Manager) flushLocked(sess *sessionHandle) {
	if !sess.ready() {
		return
	}
	for _, blob := range sess.queue.Drain() {
		if !m.sendLocked(sess, blob) {
			return
		}
	}
}

func (m *Manager) sendLocked(sess *sessionHandle, blob pcm.Blob) bool {
	if err := sess.conn.Send(blob); err != nil {
		_ = m.failLocked(ErrTransport, err)
		return false
	}
	m.metrics.inc(m.metrics.framesSent)
	return true
}

func (m *Manager) handleEventLocked(sess *sessionHandle, ev Event) {
	switch e := ev.(type) {
	case InputTranscript:
		sess.userText.WriteString(e.Text)
	case OutputTranscript:
		sess.modelText.WriteString(e.Text)
	case AudioData:
		rate := pcm.ParseRate(e.MIMEType, m.cfg.InputRate)
		chunk, err := pcm.Decode(e.Data, rate, m.cfg.OutputRate)
		if err != nil {
			m.metrics.inc(m.metrics.decodeFailures)
			m.logger.Warn("dropping undecodable audio chunk", slogError(err))
			return
		}
		if _, err := sess.scheduler.Schedule(chunk); err != nil {
			m.logger.Warn("failed to schedule audio chunk", slogError(err))
			return
		}
		m.metrics.inc(m.metrics.chunks)
	case Interrupted:
		sess.scheduler.Interrupt()
		m.metrics.inc(m.metrics.interrupts)
	case TurnComplete:
		user, model := sess.userText.String(), sess.modelText.String()
		sess.userText.Reset()
		sess.modelText.Reset()
		m.metrics.inc(m.metrics.turns)
		if m.deps.Sink != nil {
			m.deps.Sink.CompleteTurn(user, model)
		}
	default:
		m.logger.Debug("ignoring unknown live event")
	}
}

// failLocked surfaces err, tears the session down and returns to idle.
func (m *Manager) failLocked(kind ErrorKind, err error) error {
	lerr := &Error{Kind: kind, Err: err}
	if m.sess != nil {
		m.sess.err = lerr
	}
	m.setStateLocked(StateError)
	m.metrics.failure(kind)
	m.logger.Warn("live session failed", slog.String("kind", string(kind)), slogError(err))
	if m.deps.Listener != nil {
		m.deps.Listener.Failed(lerr)
	}
	m.teardownLocked()
	m.setStateLocked(StateIdle)
	return lerr
}

// teardownLocked releases whatever the current session acquired and
// invalidates every callback bound to it.
func (m *Manager) teardownLocked() {
	m.gen++
	sess := m.sess
	m.sess = nil
	if sess == nil {
		return
	}
	sess.cancel()
	if sess.capture != nil {
		sess.capture.Stop()
	}
	if sess.scheduler != nil {
		sess.scheduler.Close()
	}
	if sess.playback != nil {
		if err := sess.playback.Close(); err != nil {
			m.logger.Debug("playback close failed", slogError(err))
		}
	}
	if sess.conn != nil {
		if err := sess.conn.Close(); err != nil {
			m.logger.Debug("connection close failed", slogError(err))
		}
	}
	sess.queue.Reset()
	sess.userText.Reset()
	sess.modelText.Reset()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("live state", slog.String("from", m.state.String()), slog.String("to", s.String()))
	m.state = s
	if m.deps.Listener != nil {
		m.deps.Listener.StateChanged(s)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
