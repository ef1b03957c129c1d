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
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

const (
	defaultElevenLabsURL        = "https://api.elevenlabs.io/v1"
	defaultElevenLabsVoice      = "21m00Tcm4TlvDq8ikWAM"
	defaultElevenLabsModel      = "eleven_turbo_v2_5"
	defaultElevenLabsStability  = 0.5
	defaultElevenLabsSimilarity = 0.75
	elevenLabsPhoneFormat       = "ulaw_8000"
	elevenLabsRequestTimeout    = 30 * time.Second
)

// ElevenLabsConfig holds configuration for the ElevenLabs streaming adapter.
// Only APIKey is required. Stability and Similarity are in [0, 1].
type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	ChunkSize  int
	Stability  float64
	Similarity float64
}

// ElevenLabsTTS streams operator speech from ElevenLabs as 8kHz mu-law, the
// format the media stream plays back unchanged
type ElevenLabsTTS struct {
	apiKey     string
	streamURL  string
	modelID    string
	settings   voiceSettings
	chunkSize  int
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Similarity < 0 || config.Similarity > 1 {
		return fmt.Errorf("similarity must be between 0 and 1, got %f", config.Similarity)
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	return nil
}

// NewElevenLabsConfigFromEnv reads ELEVEN_LABS_* variables. Unparseable numbers are left at zero.
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:  os.Getenv("ELEVEN_LABS_API_KEY"),
		BaseURL: os.Getenv("ELEVEN_LABS_BASE_URL"),
		VoiceID: os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID: os.Getenv("ELEVEN_LABS_MODEL_ID"),
	}
	if v, err := strconv.ParseFloat(os.Getenv("ELEVEN_LABS_STABILITY"), 64); err == nil {
		config.Stability = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("ELEVEN_LABS_SIMILARITY"), 64); err == nil {
		config.Similarity = v
	}
	return config
}

// NewElevenLabsTTS creates a new ElevenLabs adapter
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	base := config.BaseURL
	if base == "" {
		base = defaultElevenLabsURL
	}
	voice := config.VoiceID
	if voice == "" {
		voice = defaultElevenLabsVoice
		logger.Info("Using default voice", zap.String("voice_id", voice))
	}
	model := config.ModelID
	if model == "" {
		model = defaultElevenLabsModel
	}
	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	settings := voiceSettings{Stability: config.Stability, SimilarityBoost: config.Similarity}
	if settings.Stability == 0 {
		settings.Stability = defaultElevenLabsStability
	}
	if settings.SimilarityBoost == 0 {
		settings.SimilarityBoost = defaultElevenLabsSimilarity
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/text-to-speech/" + url.PathEscape(voice) + "/stream")
	if err != nil {
		return nil, fmt.Errorf("invalid ElevenLabs URL: %w", err)
	}
	q := u.Query()
	q.Set("output_format", elevenLabsPhoneFormat)
	q.Set("enable_logging", "false")
	u.RawQuery = q.Encode()

	return &ElevenLabsTTS{
		apiKey:     config.APIKey,
		streamURL:  u.String(),
		modelID:    model,
		settings:   settings,
		chunkSize:  chunkSize,
		httpClient: &http.Client{Timeout: elevenLabsRequestTimeout},
		logger:     logger,
	}, nil
}

// ConvertTextToSpeech posts the text and streams the audio body back in chunks
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: e.modelID, VoiceSettings: e.settings})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.streamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/basic")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			e.logger.Error("ElevenLabs request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errorBody, _ := io.ReadAll(resp.Body)
			e.logger.Error("ElevenLabs returned error",
				zap.Int("statusCode", resp.StatusCode),
				zap.String("response", string(errorBody)))
			return
		}

		pumpChunks(ctx, resp.Body, e.chunkSize, audioChan, e.logger)
	}()

	return audioChan, nil
}
