package api

import (
	"context"
	"encoding/binary"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/live"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/gorilla/websocket"
)

type bridgeConn struct {
	sent chan pcm.Blob
}

func (c *bridgeConn) Send(b pcm.Blob) error {
	select {
	case c.sent <- b:
	default:
	}
	return nil
}

func (c *bridgeConn) Close() error { return nil }

type bridgeDialer struct {
	handlers chan live.Handlers
	conn     *bridgeConn
}

func newBridgeDialer() *bridgeDialer {
	return &bridgeDialer{
		handlers: make(chan live.Handlers, 1),
		conn:     &bridgeConn{sent: make(chan pcm.Blob, 16)},
	}
}

func (d *bridgeDialer) Dial(_ context.Context, _ live.ConnectConfig, h live.Handlers) (live.Conn, error) {
	d.handlers <- h
	return d.conn, nil
}

func dialLive(t *testing.T, opts Options) *websocket.Conn {
	t.Helper()
	srv, _ := newTestServer(t, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/live", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendMessage(t *testing.T, ws *websocket.Conn, msg clientMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func sendFrame(t *testing.T, ws *websocket.Conn, value float32, n int) {
	t.Helper()
	data := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(value))
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readUntil returns the first server message accepted by match.
func readUntil(t *testing.T, ws *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg serverMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(serverMessage) bool {
	return func(m serverMessage) bool { return m.Type == typ }
}

func inState(state string) func(serverMessage) bool {
	return func(m serverMessage) bool { return m.Type == "state" && m.State == state }
}

func TestLiveBridgeSession(t *testing.T) {
	dialer := newBridgeDialer()
	ws := dialLive(t, Options{
		Chat: &fakeChat{},
		Live: LiveOptions{Dialer: dialer, Session: live.Config{QueueSize: 8}},
	})

	sendMessage(t, ws, clientMessage{Type: "connect"})
	readUntil(t, ws, ofType("permission_request"))
	sendMessage(t, ws, clientMessage{Type: "permission", Granted: true, SampleRate: 16000})

	var h live.Handlers
	select {
	case h = <-dialer.handlers:
	case <-time.After(3 * time.Second):
		t.Fatalf("dialer not called")
	}
	h.OnOpen()
	readUntil(t, ws, inState("open"))

	sendFrame(t, ws, 0.25, 160)
	select {
	case blob := <-dialer.conn.sent:
		if blob.MIMEType != "audio/pcm;rate=16000" || len(blob.Data) != 320 {
			t.Fatalf("unexpected realtime blob %s with %d bytes", blob.MIMEType, len(blob.Data))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("frame not forwarded")
	}

	h.OnMessage(live.InputTranscript{Text: "hi"})
	h.OnMessage(live.AudioData{MIMEType: "audio/pcm;rate=24000", Data: make([]byte, 480)})
	audio := readUntil(t, ws, ofType("audio"))
	if audio.Data == "" || audio.SampleRate != 24000 || audio.ID == 0 {
		t.Fatalf("unexpected audio message %+v", audio)
	}

	h.OnMessage(live.OutputTranscript{Text: "hey there [METADATA]\nMOOD: HAPPY\n[/METADATA]"})
	h.OnMessage(live.TurnComplete{})
	turn := readUntil(t, ws, ofType("turn"))
	if turn.User != "hi" || turn.Reply != "hey there" || turn.Correction != "" || turn.ConversationID == "" {
		t.Fatalf("unexpected turn %+v", turn)
	}

	sendMessage(t, ws, clientMessage{Type: "disconnect"})
	readUntil(t, ws, inState("idle"))
}

func TestLiveBridgePermissionDenied(t *testing.T) {
	ws := dialLive(t, Options{
		Chat: &fakeChat{},
		Live: LiveOptions{Dialer: newBridgeDialer()},
	})
	sendMessage(t, ws, clientMessage{Type: "connect"})
	readUntil(t, ws, ofType("permission_request"))
	sendMessage(t, ws, clientMessage{Type: "permission", Granted: false})
	msg := readUntil(t, ws, ofType("error"))
	if msg.Kind != string(live.ErrPermissionDenied) {
		t.Fatalf("unexpected error %+v", msg)
	}
	readUntil(t, ws, inState("idle"))
}

func TestLiveBridgeDisabled(t *testing.T) {
	ws := dialLive(t, Options{Chat: &fakeChat{}})
	sendMessage(t, ws, clientMessage{Type: "connect"})
	msg := readUntil(t, ws, ofType("error"))
	if msg.Message != errLiveDisabled {
		t.Fatalf("unexpected error %+v", msg)
	}
}

func TestLiveBridgeRecordClip(t *testing.T) {
	chat := &fakeChat{reply: "Sounds great [METADATA]\nBOND_SCORE: 70\n[/METADATA]"}
	ws := dialLive(t, Options{Chat: chat, Live: LiveOptions{ClipWindow: 300 * time.Millisecond}})

	sendMessage(t, ws, clientMessage{Type: "record"})
	readUntil(t, ws, ofType("permission_request"))
	sendMessage(t, ws, clientMessage{Type: "permission", Granted: true, SampleRate: 16000})
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		sendFrame(t, ws, 0.1, 160)
	}

	reply := readUntil(t, ws, ofType("clip_reply"))
	if reply.Reply != "Sounds great" || reply.Stats == nil || reply.Stats.BondScore != 70 {
		t.Fatalf("unexpected clip reply %+v", reply)
	}
	reqs := chat.Requests()
	if len(reqs) != 1 || reqs[0].AudioMIME != "audio/wav" || len(reqs[0].Audio) == 0 {
		t.Fatalf("clip not sent as wav audio: %+v", reqs)
	}
}

func TestLiveBridgeReconnectBeforeGrant(t *testing.T) {
	dialer := newBridgeDialer()
	ws := dialLive(t, Options{
		Chat: &fakeChat{},
		Live: LiveOptions{Dialer: dialer},
	})

	sendMessage(t, ws, clientMessage{Type: "connect"})
	first := readUntil(t, ws, ofType("permission_request"))
	sendMessage(t, ws, clientMessage{Type: "disconnect"})
	readUntil(t, ws, inState("idle"))

	sendMessage(t, ws, clientMessage{Type: "connect"})
	second := readUntil(t, ws, ofType("permission_request"))
	if second.ID == first.ID {
		t.Fatalf("prompts share id %d", first.ID)
	}

	// An answer to the abandoned prompt must not start anything.
	sendMessage(t, ws, clientMessage{Type: "permission", Granted: true, SampleRate: 16000, ID: first.ID})
	select {
	case <-dialer.handlers:
		t.Fatalf("stale answer started a session")
	case <-time.After(100 * time.Millisecond):
	}

	sendMessage(t, ws, clientMessage{Type: "permission", Granted: true, SampleRate: 16000})
	var h live.Handlers
	select {
	case h = <-dialer.handlers:
	case <-time.After(3 * time.Second):
		t.Fatalf("grant for the new attempt did not dial")
	}
	h.OnOpen()
	readUntil(t, ws, inState("open"))
}

func TestLiveBridgeClipWindowIsCapped(t *testing.T) {
	chat := &fakeChat{reply: "Nice!\n[Coach's Corner]\nSay \"I went\"."}
	ws := dialLive(t, Options{Chat: chat, Live: LiveOptions{
		ClipWindow:    100 * time.Millisecond,
		MaxClipWindow: 200 * time.Millisecond,
	}})

	// Without the cap this would record for ten minutes.
	sendMessage(t, ws, clientMessage{Type: "record", WindowMS: 600000})
	readUntil(t, ws, ofType("permission_request"))
	sendMessage(t, ws, clientMessage{Type: "permission", Granted: true, SampleRate: 16000})
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		sendFrame(t, ws, 0.1, 160)
	}

	reply := readUntil(t, ws, ofType("clip_reply"))
	if reply.Reply != "Nice!" || reply.Correction != "Say \"I went\"." {
		t.Fatalf("unexpected clip reply %+v", reply)
	}
}

func TestLiveBridgeRejectsUnknownMessage(t *testing.T) {
	ws := dialLive(t, Options{Chat: &fakeChat{}})
	sendMessage(t, ws, clientMessage{Type: "dance"})
	msg := readUntil(t, ws, ofType("error"))
	if msg.Kind != "bad-request" {
		t.Fatalf("unexpected error %+v", msg)
	}
}
