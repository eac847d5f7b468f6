package protocol

import (
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/metadata"
)

const (
	SubjectChatRequest  = "companion.chat.request"
	SubjectTTSRequest   = "companion.tts.request"
	SubjectTurnComplete = "companion.turn.complete"
)

// Turn is one entry of a conversation. Correction holds the grammar note a
// model turn carried after the coach marker, kept apart from Text.
type Turn struct {
	Role       string `json:"role"`
	Text       string `json:"text"`
	Correction string `json:"correction,omitempty"`
}

// Content is the turn as the model originally wrote it, correction included.
func (t Turn) Content() string {
	return metadata.JoinCorrection(t.Text, t.Correction)
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatRequest asks the chat service for one reply.
type ChatRequest struct {
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"text,omitempty"`
	History        []Turn  `json:"history,omitempty"`
	Audio          []byte  `json:"audio,omitempty"`
	AudioMIME      string  `json:"audio_mime,omitempty"`
	TraceID        string  `json:"trace_id,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
}

// ChatReply is the raw model reply; the metadata block is still embedded.
type ChatReply struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Model          string    `json:"model,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TTSRequest asks the speech service to synthesize text.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// TTSReply is a reassembled synthesis. PCM is 16-bit little-endian samples
// unless MIMEType names an encoded format, in which case it holds that
// format's bytes.
type TTSReply struct {
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	MIMEType   string `json:"mime_type,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TTSChunk is one message of a streamed synthesis reply. Sequence starts at 0
// and the stream ends with a chunk that sets Final or Error.
type TTSChunk struct {
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	MIMEType   string `json:"mime_type,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TurnEvent is published whenever a conversation gains a completed turn. It
// carries the full conversation so subscribers can write it through.
type TurnEvent struct {
	ConversationID string         `json:"conversation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Preview        string         `json:"preview"`
	Messages       []Turn         `json:"messages"`
	Stats          metadata.Stats `json:"stats"`
	Source         string         `json:"source"`
}

const (
	SourceLive = "live"
	SourceChat = "chat"
)
