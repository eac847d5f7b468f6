// Package api serves the HTTP surface: the text chat fallback, speech
// synthesis, saved conversations and the /live WebSocket bridge.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/conversation"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/history"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/live"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
)

const (
	// maxCached bounds the conversations kept in memory between chat requests.
	maxCached            = 256
	defaultMaxClipWindow = 15 * time.Second
)

type ChatClient interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (protocol.ChatReply, error)
}

type SpeechClient interface {
	Synthesize(ctx context.Context, req protocol.TTSRequest) (protocol.TTSReply, error)
}

type ConversationStore interface {
	Get(ctx context.Context, id string) (history.Conversation, error)
	List(ctx context.Context, limit int) ([]history.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// LiveOptions configures the /live bridge. A nil Dialer disables live
// sessions while clip recording stays available. A client may ask for a clip
// window up to MaxClipWindow.
type LiveOptions struct {
	Dialer            live.Dialer
	Session           live.Config
	PermissionTimeout time.Duration
	ClipWindow        time.Duration
	MaxClipWindow     time.Duration
}

// Options are the collaborators of a Server. Speech and Metrics may be nil.
// HistoryTurns caps the turns sent with each chat request; 0 sends all.
type Options struct {
	Chat           ChatClient
	HistoryTurns   int
	Speech         SpeechClient
	Store          ConversationStore
	Publisher      conversation.Publisher
	Live           LiveOptions
	Metrics        http.Handler
	Ready          func() bool
	AllowedOrigins []string
}

type Server struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	transcripts map[string]*conversation.Transcript
	order       []string
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if opts.Live.PermissionTimeout <= 0 {
		opts.Live.PermissionTimeout = 30 * time.Second
	}
	if opts.Live.ClipWindow <= 0 {
		opts.Live.ClipWindow = live.DefaultClipWindow
	}
	if opts.Live.MaxClipWindow < opts.Live.ClipWindow {
		opts.Live.MaxClipWindow = max(opts.Live.ClipWindow, defaultMaxClipWindow)
	}
	return &Server{
		opts:        opts,
		logger:      logger.With(slog.String("component", "api")),
		transcripts: make(map[string]*conversation.Transcript),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /live", s.handleLive)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether a browser origin may call the API. An empty
// allow list or "*" admits every origin.
func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready == nil || s.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// transcript returns the conversation for id, resuming it from the store or
// starting a new one. An unknown id starts a new conversation under that id.
func (s *Server) transcript(ctx context.Context, id string) *conversation.Transcript {
	if id == "" {
		t := conversation.New(protocol.SourceChat, s.opts.Publisher, s.logger)
		s.remember(t)
		return t
	}
	s.mu.Lock()
	t, ok := s.transcripts[id]
	s.mu.Unlock()
	if ok {
		return t
	}
	conv, err := s.opts.Store.Get(ctx, id)
	switch {
	case err == nil:
		t = conversation.Resume(conv.ID, conv.Messages, conv.Stats, protocol.SourceChat, s.opts.Publisher, s.logger)
	default:
		if !errors.Is(err, history.ErrNotFound) {
			s.logger.Warn("failed to load conversation", slog.String("conversation_id", id), slogError(err))
		}
		t = conversation.Resume(id, nil, metadata.DefaultStats(), protocol.SourceChat, s.opts.Publisher, s.logger)
	}
	s.remember(t)
	return t
}

// history is the context sent with a chat request for t.
func (s *Server) history(t *conversation.Transcript) []protocol.Turn {
	if s.opts.HistoryTurns <= 0 {
		return t.Turns()
	}
	return t.Recent(s.opts.HistoryTurns)
}

func (s *Server) remember(t *conversation.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[t.ID()]; ok {
		return
	}
	s.transcripts[t.ID()] = t
	s.order = append(s.order, t.ID())
	for len(s.order) > maxCached {
		delete(s.transcripts, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
