package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
	"github.com/aarambh/dispatch/server/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time allowed to authenticate, connect the recognizer and open the session.
	setupTimeout = 10 * time.Second

	sendBufferSize      = 512
	utteranceBufferSize = 8
)

const (
	// DefaultDebounceDelay is the silence after the last final fragment that ends a caller turn
	DefaultDebounceDelay = 1200 * time.Millisecond

	// DefaultCycleTimeout bounds one intake cycle including synthesis
	DefaultCycleTimeout = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	// Media streams come from the telephony provider, not a browser.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// IntakeRunner is what a call needs from the intake use case
type IntakeRunner interface {
	StartSession(ctx context.Context, id string) (*entities.Session, error)
	Advance(ctx context.Context, sessionID, utterance string) (*domain.CycleOutcome, error)
}

// StreamTokenValidator checks the token a media stream presents in its start event
type StreamTokenValidator interface {
	ValidateStreamToken(token, callSid string) (*auth.StreamClaims, error)
}

// CallConfig tunes the timing of every call
type CallConfig struct {
	DebounceDelay time.Duration
	CycleTimeout  time.Duration
}

// Hub maintains the set of active calls.
type Hub struct {
	// Active calls by connection id.
	calls map[string]*VoiceCall

	// Register requests from new calls.
	register chan *VoiceCall

	// Unregister requests from ended calls.
	unregister chan *VoiceCall

	// Closed when Run returns.
	stopped chan struct{}

	mu sync.RWMutex

	intake     IntakeRunner
	stt        repositories.SpeechToText
	tts        repositories.TextToSpeech
	streamAuth StreamTokenValidator
	validator  *MessageValidator
	config     CallConfig

	logger *zap.Logger
}

// NewHub creates a new call hub. streamAuth may be nil to accept unauthenticated streams.
func NewHub(
	intake IntakeRunner,
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	streamAuth StreamTokenValidator,
	config CallConfig,
	logger *zap.Logger,
) *Hub {
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = DefaultDebounceDelay
		logger.Info("Using default debounce delay", zap.Duration("delay", config.DebounceDelay))
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = DefaultCycleTimeout
	}

	return &Hub{
		calls:      make(map[string]*VoiceCall),
		register:   make(chan *VoiceCall),
		unregister: make(chan *VoiceCall),
		stopped:    make(chan struct{}),
		intake:     intake,
		stt:        stt,
		tts:        tts,
		streamAuth: streamAuth,
		validator:  NewMessageValidator(),
		config:     config,
		logger:     logger,
	}
}

// Run starts the hub's main loop. When ctx is done every active call is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case call := <-h.register:
			h.mu.Lock()
			h.calls[call.id] = call
			h.mu.Unlock()
			h.logger.Info("Call registered", zap.String("call_id", call.id))

		case call := <-h.unregister:
			h.mu.Lock()
			delete(h.calls, call.id)
			h.mu.Unlock()
			h.logger.Info("Call unregistered", zap.String("call_id", call.id))

		case <-ctx.Done():
			h.mu.Lock()
			calls := make([]*VoiceCall, 0, len(h.calls))
			for _, call := range h.calls {
				calls = append(calls, call)
			}
			h.calls = make(map[string]*VoiceCall)
			h.mu.Unlock()

			for _, call := range calls {
				go call.Close()
			}
			h.logger.Info("Hub stopped", zap.Int("closed_calls", len(calls)))
			return
		}
	}
}

// ActiveCalls returns the number of connected calls
func (h *Hub) ActiveCalls() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.calls)
}

// HandleMediaStream upgrades the request to a media stream websocket and runs the call.
func (h *Hub) HandleMediaStream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	h.serve(conn)
	return nil
}

// serve runs a call over an established connection
func (h *Hub) serve(conn mediaConn) *VoiceCall {
	call := newVoiceCall(uuid.New().String(), h, conn)

	select {
	case h.register <- call:
	case <-h.stopped:
		call.Close()
		return call
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	call.start()
	return call
}

func (h *Hub) unregisterCall(call *VoiceCall) {
	select {
	case h.unregister <- call:
	case <-h.stopped:
	}
}
