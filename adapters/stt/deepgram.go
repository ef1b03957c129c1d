package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

const (
	defaultDeepgramListenURL = "wss://api.deepgram.com/v1/listen"
	defaultEndpointingMs     = 300
	handshakeTimeout         = 10 * time.Second
	fragmentBuffer           = 64
)

// DeepgramConfig holds configuration for the Deepgram streaming recognizer
type DeepgramConfig struct {
	APIKey        string // Required
	ListenURL     string // Optional, overrides the websocket endpoint
	EndpointingMs int    // Optional, silence in ms before Deepgram finalizes
}

// DeepgramSpeechToText opens one Deepgram live transcription socket per call
type DeepgramSpeechToText struct {
	apiKey        string
	listenURL     string
	endpointingMs int
	logger        *zap.Logger
}

var _ repositories.SpeechToText = (*DeepgramSpeechToText)(nil)

// ValidateDeepgramConfig validates the DeepgramConfig
func ValidateDeepgramConfig(config DeepgramConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("deepgram API key is required")
	}
	if config.EndpointingMs < 0 {
		return fmt.Errorf("endpointing must be positive, got %d", config.EndpointingMs)
	}
	return nil
}

// NewDeepgramConfigFromEnv reads DEEPGRAM_* variables
func NewDeepgramConfigFromEnv() DeepgramConfig {
	config := DeepgramConfig{
		APIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		ListenURL: os.Getenv("DEEPGRAM_LISTEN_URL"),
	}
	if v := os.Getenv("DEEPGRAM_ENDPOINTING_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.EndpointingMs = n
		}
	}
	return config
}

// NewDeepgramSpeechToText creates a new Deepgram recognizer factory
func NewDeepgramSpeechToText(config DeepgramConfig, logger *zap.Logger) (*DeepgramSpeechToText, error) {
	if err := ValidateDeepgramConfig(config); err != nil {
		return nil, err
	}

	listenURL := config.ListenURL
	if listenURL == "" {
		listenURL = defaultDeepgramListenURL
		logger.Info("Using default listen URL", zap.String("listenURL", listenURL))
	}

	endpointing := config.EndpointingMs
	if endpointing == 0 {
		endpointing = defaultEndpointingMs
	}

	return &DeepgramSpeechToText{
		apiKey:        config.APIKey,
		listenURL:     listenURL,
		endpointingMs: endpointing,
		logger:        logger,
	}, nil
}

func (d *DeepgramSpeechToText) streamURL(config repositories.AudioConfig) (string, error) {
	u, err := url.Parse(d.listenURL)
	if err != nil {
		return "", fmt.Errorf("parse listen URL: %w", err)
	}
	q := u.Query()
	q.Set("encoding", strings.ToLower(config.Encoding))
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("channels", "1")
	q.Set("smart_formatting", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.Itoa(d.endpointingMs))
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InitTranscribeStreaming dials Deepgram and starts reading results
func (d *DeepgramSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	streamURL, err := d.streamURL(config)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, streamURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("deepgram connect (status %d): %s: %w", resp.StatusCode, string(body), err)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	s := &DeepgramStream{
		conn:    conn,
		results: make(chan repositories.TranscriptFragment, fragmentBuffer),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		logger:  d.logger,
	}
	go s.readLoop()

	d.logger.Info("Deepgram stream opened",
		zap.String("encoding", config.Encoding),
		zap.Int("sampleRate", config.SampleRate))

	return s, nil
}

// DeepgramStream is one live transcription socket
type DeepgramStream struct {
	conn    *websocket.Conn
	results chan repositories.TranscriptFragment
	done    chan struct{}
	quit    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	logger  *zap.Logger
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel *struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *DeepgramStream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Deepgram read failed", zap.Error(err))
			}
			return
		}

		fragment, ok := parseDeepgramResult(data)
		if !ok {
			continue
		}
		select {
		case s.results <- fragment:
		case <-s.quit:
			return
		}
	}
}

// parseDeepgramResult extracts the top alternative; metadata and malformed
// events are skipped
func parseDeepgramResult(data []byte) (repositories.TranscriptFragment, bool) {
	var msg deepgramResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return repositories.TranscriptFragment{}, false
	}
	if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
		return repositories.TranscriptFragment{}, false
	}
	return repositories.TranscriptFragment{
		Text:    strings.TrimSpace(msg.Channel.Alternatives[0].Transcript),
		IsFinal: msg.IsFinal,
	}, true
}

// Stream forwards one raw audio frame
func (s *DeepgramStream) Stream(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Results emits fragments until the socket ends
func (s *DeepgramStream) Results() <-chan repositories.TranscriptFragment {
	return s.results
}

// Close sends the empty-array close frame Deepgram expects, then tears the socket down
func (s *DeepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("[]"))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return s.conn.Close()
}
