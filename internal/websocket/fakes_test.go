package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// fakeConn is an in-memory media stream connection
type fakeConn struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(limit int64) {}
func (f *fakeConn) SetPongHandler(h func(appData string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// sent decodes every outbound message as "event" or "media:<audio>" / "mark:<name>"
func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.written))
	for _, raw := range f.written {
		var msg struct {
			Event string `json:"event"`
			Media struct {
				Payload string `json:"payload"`
			} `json:"media"`
			Mark struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			out = append(out, "invalid")
			continue
		}
		switch msg.Event {
		case "media":
			audio, _ := base64.StdEncoding.DecodeString(msg.Media.Payload)
			out = append(out, "media:"+string(audio))
		case "mark":
			out = append(out, "mark:"+msg.Mark.Name)
		default:
			out = append(out, msg.Event)
		}
	}
	return out
}

func (f *fakeConn) sendEvent(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	f.inbound <- data
}

func startEvent(streamSid, callSid, token string) map[string]interface{} {
	start := map[string]interface{}{
		"streamSid": streamSid,
		"callSid":   callSid,
	}
	if token != "" {
		start["customParameters"] = map[string]string{StreamTokenParameter: token}
	}
	return map[string]interface{}{"event": "start", "streamSid": streamSid, "start": start}
}

func mediaEvent(audio []byte) map[string]interface{} {
	return map[string]interface{}{
		"event": "media",
		"media": map[string]string{"payload": base64.StdEncoding.EncodeToString(audio)},
	}
}

func markEvent(name string) map[string]interface{} {
	return map[string]interface{}{"event": "mark", "mark": map[string]string{"name": name}}
}

// fakeRecognizer lets a test push recognizer fragments
type fakeRecognizer struct {
	results   chan repositories.TranscriptFragment
	mu        sync.Mutex
	frames    int
	closed    bool
	closeOnce sync.Once
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan repositories.TranscriptFragment, 32)}
}

func (r *fakeRecognizer) Stream(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	return nil
}

func (r *fakeRecognizer) Results() <-chan repositories.TranscriptFragment {
	return r.results
}

func (r *fakeRecognizer) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.results)
	})
	return nil
}

func (r *fakeRecognizer) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *fakeRecognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRecognizer) say(text string, final bool) {
	r.results <- repositories.TranscriptFragment{Text: text, IsFinal: final}
}

type fakeSTT struct {
	recognizer *fakeRecognizer
	err        error
}

func (s *fakeSTT) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.recognizer, nil
}

// fakeTTS speaks the text back as a single chunk unless a hold is set
type fakeTTS struct {
	err error
	// hold, when set, delays the second chunk until it is closed
	hold chan struct{}

	mu    sync.Mutex
	texts []string
}

func (f *fakeTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		out <- []byte(text)
		if f.hold != nil {
			<-f.hold
			out <- []byte(text + " (continued)")
		}
	}()
	return out, nil
}

// fakeIntake records calls and answers with a canned reply
type fakeIntake struct {
	mu         sync.Mutex
	started    []string
	utterances []string
	calls      chan string
	advance    func(sessionID, utterance string) (*domain.CycleOutcome, error)
}

func newFakeIntake() *fakeIntake {
	return &fakeIntake{calls: make(chan string, 16)}
}

func (f *fakeIntake) StartSession(ctx context.Context, id string) (*entities.Session, error) {
	f.mu.Lock()
	f.started = append(f.started, id)
	f.mu.Unlock()
	return entities.NewSession(id), nil
}

func (f *fakeIntake) Advance(ctx context.Context, sessionID, utterance string) (*domain.CycleOutcome, error) {
	f.mu.Lock()
	f.utterances = append(f.utterances, utterance)
	f.mu.Unlock()
	f.calls <- utterance

	if f.advance != nil {
		return f.advance(sessionID, utterance)
	}
	return &domain.CycleOutcome{
		Session: entities.NewSession(sessionID),
		Reply:   fmt.Sprintf("Reply to %s", utterance),
	}, nil
}

func (f *fakeIntake) startedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeIntake) advanced() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.utterances...)
}

func newTestHub(t *testing.T, intake IntakeRunner, stt repositories.SpeechToText, tts repositories.TextToSpeech, streamAuth StreamTokenValidator) *Hub {
	t.Helper()
	hub := NewHub(intake, stt, tts, streamAuth, CallConfig{DebounceDelay: 50 * time.Millisecond, CycleTimeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.stopped
	})
	return hub
}

// startCall connects a call over a fake connection and waits for the stream to start
func startCall(t *testing.T, hub *Hub, recognizer *fakeRecognizer) (*VoiceCall, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	call := hub.serve(conn)
	conn.sendEvent(t, startEvent("MZ123", "CA123", ""))

	waitFor(t, "stream start", func() bool {
		call.mu.Lock()
		defer call.mu.Unlock()
		return call.recognizer != nil
	})
	t.Cleanup(call.Close)
	return call, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectCycle(t *testing.T, intake *fakeIntake, want string) {
	t.Helper()
	select {
	case got := <-intake.calls:
		if got != want {
			t.Fatalf("cycle utterance = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cycle %q", want)
	}
}

func expectNoCycle(t *testing.T, intake *fakeIntake, within time.Duration) {
	t.Helper()
	select {
	case got := <-intake.calls:
		t.Fatalf("unexpected cycle %q", got)
	case <-time.After(within):
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func indexOf(list []string, want string) int {
	for i, item := range list {
		if item == want {
			return i
		}
	}
	return -1
}
