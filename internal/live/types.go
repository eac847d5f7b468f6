package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/persona"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/playback"
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateOpening
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting-permission"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectConfig is passed to the remote side when a session opens.
type ConnectConfig struct {
	Model              string
	ResponseModalities []string
	Voice              string
	SystemInstruction  string
	Safety             []persona.SafetySetting
}

// Event is one inbound item from the remote side. A single server message
// may produce several events; they arrive in the order input transcript,
// output transcript, audio, interrupted, turn complete.
type Event interface {
	event()
}

// InputTranscript is a delta of what the user said.
type InputTranscript struct{ Text string }

// OutputTranscript is a delta of what the model is saying.
type OutputTranscript struct{ Text string }

// AudioData is a piece of model speech as raw 16-bit PCM.
type AudioData struct {
	MIMEType string
	Data     []byte
}

// Interrupted means the user barged in and queued speech must be dropped.
type Interrupted struct{}

// TurnComplete closes the current user and model turn.
type TurnComplete struct{}

func (InputTranscript) event()  {}
func (OutputTranscript) event() {}
func (AudioData) event()        {}
func (Interrupted) event()      {}
func (TurnComplete) event()     {}

// Handlers receive connection callbacks. Implementations of Dialer may call
// them from any goroutine but never from within Dial itself.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Event)
	OnError   func(error)
	OnClose   func()
}

// Conn is an established live connection.
type Conn interface {
	Send(blob pcm.Blob) error
	// Close must tolerate an already closed connection and must not wait
	// for pending handler callbacks.
	Close() error
}

// Dialer opens live connections.
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectConfig, h Handlers) (Conn, error)
}

// Microphone grants access to a capture device. Acquire may block until the
// user answers a permission prompt.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is a granted capture stream. Frames are delivered to onFrame from
// a single goroutine and never from within Start. Stop must not wait for an
// onFrame call in progress.
type Capture interface {
	SampleRate() int
	Start(onFrame func(samples []float32)) error
	Stop()
}

// Speaker opens playback contexts.
type Speaker interface {
	Open(sampleRate int) (PlaybackContext, error)
}

// PlaybackContext is an output device with its own clock.
type PlaybackContext interface {
	playback.Clock
	playback.Output
	Close() error
}

// TurnSink receives the accumulated text of every completed turn.
type TurnSink interface {
	CompleteTurn(userText, modelText string)
}

// Listener observes state changes and user-visible failures. It is called
// with the manager lock held and must not call back into the Manager.
type Listener interface {
	StateChanged(State)
	Failed(*Error)
}

// ErrorKind classifies session failures.
type ErrorKind string

const (
	ErrPermissionDenied ErrorKind = "permission-denied"
	ErrAudioDevice      ErrorKind = "audio-device"
	ErrTransport        ErrorKind = "transport-error"
)

// Error is a failure that ended a session attempt.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("live %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the short text shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case ErrPermissionDenied:
		return "Microphone access was denied."
	case ErrAudioDevice:
		return "Audio device could not be opened."
	default:
		return "Connection to the voice service failed."
	}
}

// ErrCanceled is returned by Connect when a disconnect superseded the attempt
// while it was waiting.
var ErrCanceled = errors.New("live: connect canceled")
