package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/history"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/protocol"
)

const maxBodyBytes = 1 << 20

type chatRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatResponse carries the reply body and, separately, the coach's
// correction when the user's message had a mistake.
type chatResponse struct {
	Reply          string         `json:"reply"`
	Correction     string         `json:"correction,omitempty"`
	ConversationID string         `json:"conversation_id"`
	Stats          metadata.Stats `json:"stats"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	t := s.transcript(r.Context(), req.ConversationID)
	reply, err := s.opts.Chat.Chat(r.Context(), protocol.ChatRequest{
		ConversationID: t.ID(),
		Text:           text,
		History:        s.history(t),
	})
	if err != nil {
		s.logger.Warn("chat request failed", slog.String("conversation_id", t.ID()), slogError(err))
		writeError(w, http.StatusBadGateway, "AI response failed")
		return
	}
	model, stats := t.Complete(text, reply.Text)
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:          model.Text,
		Correction:     model.Correction,
		ConversationID: t.ID(),
		Stats:          stats,
	})
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.opts.Speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis disabled")
		return
	}
	var req ttsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(metadata.Strip(req.Text))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	reply, err := s.opts.Speech.Synthesize(r.Context(), protocol.TTSRequest{Text: text, Voice: req.Voice})
	if err != nil {
		s.logger.Warn("tts request failed", slogError(err))
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	if !pcm.IsRaw(reply.MIMEType) {
		writeAudio(w, reply.MIMEType, reply.PCM)
		return
	}
	channels := reply.Channels
	if channels <= 0 {
		channels = 1
	}
	wav, err := pcm.WAVBytes(reply.PCM, reply.SampleRate, channels)
	if err != nil {
		s.logger.Warn("failed to encode wav", slogError(err))
		writeError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}
	writeAudio(w, "audio/wav", wav)
}

func writeAudio(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	convs, err := s.opts.Store.List(r.Context(), limit)
	if err != nil {
		s.logger.Warn("failed to list conversations", slogError(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []history.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("failed to load conversation", slogError(err))
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.opts.Store.Delete(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("failed to delete conversation", slogError(err))
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	s.forget(id)
	w.WriteHeader(http.StatusNoContent)
}
