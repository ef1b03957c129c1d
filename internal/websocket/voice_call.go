package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// mediaConn is the part of *websocket.Conn a call uses
type mediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// outboundFrame is a message queued for the telephony leg. Frames from a
// playback generation that was barged in on are dropped.
type outboundFrame struct {
	generation uint64
	payload    []byte
}

// VoiceCall bridges one telephony media stream with a recognizer stream and
// the speech synthesizer, running one intake cycle per debounced caller utterance.
type VoiceCall struct {
	id     string
	hub    *Hub
	conn   mediaConn
	logger *zap.Logger

	// Buffered channel of outbound audio and marks.
	send chan outboundFrame

	// Debounced utterances waiting for the cycle worker.
	utterances chan string

	done      chan struct{}
	closeOnce sync.Once

	// Serializes writes to conn; the clear event bypasses the send queue.
	writeMu     sync.Mutex
	playbackGen atomic.Uint64

	mu            sync.Mutex
	streamSid     string
	callSid       string
	recognizer    repositories.SpeechToTextStreaming
	speaking      bool
	pending       []string
	debounceTimer *time.Timer
	debounceGen   uint64
	markSeq       int
	pendingMark   string
	closed        bool
}

func newVoiceCall(id string, hub *Hub, conn mediaConn) *VoiceCall {
	return &VoiceCall{
		id:         id,
		hub:        hub,
		conn:       conn,
		logger:     hub.logger.With(zap.String("call_id", id)),
		send:       make(chan outboundFrame, sendBufferSize),
		utterances: make(chan string, utteranceBufferSize),
		done:       make(chan struct{}),
	}
}

// start runs the call's duties. The recognizer pump starts once the stream does.
func (c *VoiceCall) start() {
	go c.writePump()
	go c.cyclePump()
	go c.readPump()
}

// ID returns the connection id of the call
func (c *VoiceCall) ID() string {
	return c.id
}

// StreamSid returns the telephony stream id, empty until the start event
func (c *VoiceCall) StreamSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSid
}

// IsSpeaking reports whether synthesized speech is queued or playing
func (c *VoiceCall) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Done is closed once the call has ended
func (c *VoiceCall) Done() <-chan struct{} {
	return c.done
}

// readPump consumes inbound media stream events until stop or disconnect
func (c *VoiceCall) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := c.hub.validator.ValidateMessage(message)
		if err != nil {
			c.logger.Warn("Dropping invalid media stream message", zap.Error(err))
			continue
		}

		switch msg.Event {
		case EventConnected:
			c.logger.Debug("Media stream connected")
		case EventStart:
			if err := c.handleStart(msg.Start); err != nil {
				c.logger.Error("Failed to start call", zap.Error(err))
				return
			}
		case EventMedia:
			c.handleMedia(msg.Media)
		case EventMark:
			c.handleMark(msg.Mark.Name)
		case EventStop:
			c.logger.Info("Media stream stopped", zap.String("streamSid", c.StreamSid()))
			return
		}
	}
}

func (c *VoiceCall) handleStart(start *StartPayload) error {
	c.mu.Lock()
	if c.streamSid != "" {
		c.mu.Unlock()
		c.logger.Warn("Ignoring repeated start event", zap.String("streamSid", start.StreamSid))
		return nil
	}
	c.mu.Unlock()

	if c.hub.streamAuth != nil {
		token := start.CustomParameters[StreamTokenParameter]
		if _, err := c.hub.streamAuth.ValidateStreamToken(token, start.CallSid); err != nil {
			return &domain.TransportError{Op: "authenticate stream", Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	recognizer, err := c.hub.stt.InitTranscribeStreaming(ctx, repositories.TelephonyAudioConfig)
	if err != nil {
		return &domain.TransportError{Op: "connect recognizer", Err: err}
	}

	if _, err := c.hub.intake.StartSession(ctx, start.StreamSid); err != nil {
		recognizer.Close()
		return fmt.Errorf("failed to start intake session: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		recognizer.Close()
		return &domain.TransportError{Op: "start", Err: errors.New("call already closed")}
	}
	c.streamSid = start.StreamSid
	c.callSid = start.CallSid
	c.recognizer = recognizer
	c.mu.Unlock()

	go c.recognizerPump(recognizer)

	c.logger.Info("Call started",
		zap.String("streamSid", start.StreamSid),
		zap.String("callSid", start.CallSid))
	return nil
}

func (c *VoiceCall) handleMedia(media *MediaPayload) {
	c.mu.Lock()
	recognizer := c.recognizer
	c.mu.Unlock()

	if recognizer == nil {
		c.logger.Debug("Media received before stream start")
		return
	}

	audio, err := media.Decode()
	if err != nil {
		c.logger.Warn("Failed to decode media payload", zap.Error(err))
		return
	}
	if err := recognizer.Stream(audio); err != nil {
		c.logger.Error("Failed to forward audio to recognizer", zap.Error(err))
	}
}

// handleMark clears the speaking flag once playback reached the end of the latest reply
func (c *VoiceCall) handleMark(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == c.pendingMark {
		c.speaking = false
		c.pendingMark = ""
	}
}

// recognizerPump feeds recognizer fragments into barge-in and debounce handling
func (c *VoiceCall) recognizerPump(recognizer repositories.SpeechToTextStreaming) {
	for fragment := range recognizer.Results() {
		c.handleFragment(fragment)
	}
	c.logger.Debug("Recognizer stream ended")
}

func (c *VoiceCall) handleFragment(fragment repositories.TranscriptFragment) {
	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.speaking {
		c.bargeInLocked(text)
	}

	if fragment.IsFinal {
		c.pending = append(c.pending, text)
		c.restartDebounceLocked()
	}
}

// bargeInLocked stops playback: clear, drop queued audio, forget the pending utterance
func (c *VoiceCall) bargeInLocked(text string) {
	c.logger.Info("Barge-in detected", zap.String("transcript", text))

	c.speaking = false
	c.pendingMark = ""
	c.playbackGen.Add(1)

	c.stopDebounceLocked()
	c.pending = nil

drain:
	for {
		select {
		case <-c.send:
		default:
			break drain
		}
	}

	if err := c.writeClear(); err != nil {
		c.logger.Error("Failed to send clear", zap.Error(err))
	}
}

func (c *VoiceCall) restartDebounceLocked() {
	c.stopDebounceLocked()
	gen := c.debounceGen
	c.debounceTimer = time.AfterFunc(c.hub.config.DebounceDelay, func() {
		c.flushUtterance(gen)
	})
}

// stopDebounceLocked bumps the generation so a timer that already fired turns into a no-op
func (c *VoiceCall) stopDebounceLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.debounceGen++
}

// flushUtterance joins the buffered fragments and hands them to the cycle worker
func (c *VoiceCall) flushUtterance(gen uint64) {
	c.mu.Lock()
	if gen != c.debounceGen || c.closed || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	utterance := strings.Join(c.pending, " ")
	c.pending = nil
	c.debounceTimer = nil
	c.speaking = true
	c.mu.Unlock()

	select {
	case c.utterances <- utterance:
	case <-c.done:
	}
}

// cyclePump runs intake cycles one at a time, in utterance order
func (c *VoiceCall) cyclePump() {
	for {
		select {
		case <-c.done:
			return
		case utterance := <-c.utterances:
			c.runCycle(utterance)
		}
	}
}

func (c *VoiceCall) runCycle(utterance string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Intake cycle panicked", zap.Any("panic", r))
			c.setSpeaking(false)
		}
	}()

	sessionID := c.StreamSid()
	c.logger.Info("Caller utterance", zap.String("streamSid", sessionID), zap.String("text", utterance))

	// Not tied to the call: a cycle that completes the report still persists it after hangup.
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.CycleTimeout)
	defer cancel()

	outcome, err := c.hub.intake.Advance(ctx, sessionID, utterance)
	var persistErr *domain.PersistenceError
	switch {
	case errors.Is(err, domain.ErrSessionComplete):
		c.logger.Info("Ignoring utterance after completion", zap.String("streamSid", sessionID))
		c.setSpeaking(false)
		return
	case errors.As(err, &persistErr):
		c.logger.Error("Report was not persisted", zap.Error(err))
	case err != nil:
		c.logger.Error("Intake cycle failed", zap.String("streamSid", sessionID), zap.Error(err))
		c.setSpeaking(false)
		return
	}

	if outcome.Completed {
		c.logger.Info("Incident report complete", zap.String("streamSid", sessionID))
	}

	c.speak(ctx, outcome.Reply)
}

// speak synthesizes text and queues it followed by a mark
func (c *VoiceCall) speak(ctx context.Context, text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.speaking = true
	c.markSeq++
	mark := fmt.Sprintf("reply-%d", c.markSeq)
	c.pendingMark = mark
	streamSid := c.streamSid
	gen := c.playbackGen.Load()
	c.mu.Unlock()

	c.logger.Info("Operator reply", zap.String("streamSid", streamSid), zap.String("text", text))

	chunks, err := c.hub.tts.ConvertTextToSpeech(ctx, text)
	if err != nil {
		c.logger.Warn("Speaking silence for this turn", zap.Error(&domain.SynthesisError{Err: err}))
	} else {
		for chunk := range chunks {
			if len(chunk) == 0 {
				continue
			}
			payload, err := CreateMediaMessage(streamSid, chunk)
			if err != nil {
				c.logger.Error("Failed to encode media", zap.Error(err))
				continue
			}
			if !c.enqueue(outboundFrame{generation: gen, payload: payload}) {
				return
			}
		}
	}

	payload, err := CreateMarkMessage(streamSid, mark)
	if err != nil {
		c.logger.Error("Failed to encode mark", zap.Error(err))
		return
	}
	c.enqueue(outboundFrame{generation: gen, payload: payload})
}

func (c *VoiceCall) enqueue(frame outboundFrame) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *VoiceCall) setSpeaking(speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speaking = speaking
	if !speaking {
		c.pendingMark = ""
	}
}

// writePump writes queued frames in order and keeps the connection alive
func (c *VoiceCall) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			if err := c.writeFrame(frame); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *VoiceCall) writeFrame(frame outboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if frame.generation != c.playbackGen.Load() {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame.payload)
}

func (c *VoiceCall) writeClear() error {
	streamSid := c.streamSid
	if streamSid == "" {
		return nil
	}
	payload, err := CreateClearMessage(streamSid)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close ends the call: the recognizer is closed, pending work dropped and the
// connection released. An in-flight cycle is left to finish.
func (c *VoiceCall) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopDebounceLocked()
		c.pending = nil
		recognizer := c.recognizer
		c.mu.Unlock()

		close(c.done)

		if recognizer != nil {
			if err := recognizer.Close(); err != nil {
				c.logger.Warn("Failed to close recognizer", zap.Error(err))
			}
		}

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		c.writeMu.Unlock()
		c.conn.Close()

		c.hub.unregisterCall(c)

		c.mu.Lock()
		streamSid, callSid := c.streamSid, c.callSid
		c.mu.Unlock()
		c.logger.Info("Call ended", zap.String("streamSid", streamSid), zap.String("callSid", callSid))
	})
}
