package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

const (
	defaultDeepgramSpeakURL = "https://api.deepgram.com/v1/speak"
	defaultDeepgramVoice    = "aura-asteria-en"
	deepgramRequestTimeout  = 10 * time.Second
)

// DeepgramTTSConfig holds configuration for the Deepgram speak adapter
type DeepgramTTSConfig struct {
	APIKey    string // Required
	SpeakURL  string // Optional
	Model     string // Optional, defaults to aura-asteria-en
	ChunkSize int    // Optional
}

// DeepgramTTS synthesizes 8kHz mu-law audio with Deepgram Aura
type DeepgramTTS struct {
	apiKey     string
	speakURL   string
	chunkSize  int
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*DeepgramTTS)(nil)

// ValidateDeepgramTTSConfig validates the DeepgramTTSConfig
func ValidateDeepgramTTSConfig(config DeepgramTTSConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("deepgram API key is required")
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	return nil
}

// NewDeepgramTTSConfigFromEnv reads DEEPGRAM_* variables
func NewDeepgramTTSConfigFromEnv() DeepgramTTSConfig {
	return DeepgramTTSConfig{
		APIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		SpeakURL: os.Getenv("DEEPGRAM_SPEAK_URL"),
		Model:    os.Getenv("DEEPGRAM_TTS_MODEL"),
	}
}

// NewDeepgramTTS creates a new Deepgram speak adapter
func NewDeepgramTTS(config DeepgramTTSConfig, logger *zap.Logger) (*DeepgramTTS, error) {
	if err := ValidateDeepgramTTSConfig(config); err != nil {
		return nil, err
	}

	base := config.SpeakURL
	if base == "" {
		base = defaultDeepgramSpeakURL
	}
	model := config.Model
	if model == "" {
		model = defaultDeepgramVoice
		logger.Info("Using default voice", zap.String("model", model))
	}
	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid speak URL: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("container", "none")
	u.RawQuery = q.Encode()

	return &DeepgramTTS{
		apiKey:     config.APIKey,
		speakURL:   u.String(),
		chunkSize:  chunkSize,
		httpClient: &http.Client{Timeout: deepgramRequestTimeout},
		logger:     logger,
	}, nil
}

// ConvertTextToSpeech posts the text and streams the audio body back in chunks
func (d *DeepgramTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.speakURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)

		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			d.logger.Error("Deepgram speak request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errorBody, _ := io.ReadAll(resp.Body)
			d.logger.Error("Deepgram speak returned error",
				zap.Int("statusCode", resp.StatusCode),
				zap.String("response", string(errorBody)))
			return
		}

		pumpChunks(ctx, resp.Body, d.chunkSize, audioChan, d.logger)
	}()

	return audioChan, nil
}
