package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider names selectable through the environment
const (
	providerMock      = "mock"
	providerGemini    = "gemini"
	providerOpenAI    = "openai"
	providerDeepgram  = "deepgram"
	providerGoogle    = "google"
	providerEleven    = "elevenlabs"
	storeMemory       = "memory"
	storeMongo        = "mongo"
	sinkFile          = "file"
	sinkFirestore     = "firestore"
	defaultPort       = "8080"
	defaultCleanupMin = 5
)

type serverConfig struct {
	Port       string
	PublicHost string

	LLMProvider  string
	STTProvider  string
	TTSProvider  string
	SessionStore string
	ReportSink   string

	ReportsDir          string
	ConversationLogFile string

	DebounceDelay   time.Duration
	SessionTTL      time.Duration
	CleanupInterval time.Duration

	JWTSecret       string
	TwilioAuthToken string

	MockScript []string
}

func loadConfig(logger *zap.Logger) serverConfig {
	config := serverConfig{
		Port:                envOr("PORT", defaultPort),
		PublicHost:          os.Getenv("PUBLIC_HOST"),
		LLMProvider:         strings.ToLower(envOr("LLM_PROVIDER", providerGemini)),
		STTProvider:         strings.ToLower(envOr("STT_PROVIDER", providerDeepgram)),
		TTSProvider:         strings.ToLower(envOr("TTS_PROVIDER", providerDeepgram)),
		SessionStore:        strings.ToLower(envOr("SESSION_STORE", storeMemory)),
		ReportSink:          strings.ToLower(envOr("REPORT_SINK", sinkFile)),
		ReportsDir:          os.Getenv("REPORTS_DIR"),
		ConversationLogFile: os.Getenv("CONVERSATION_LOG_FILE"),
		DebounceDelay:       time.Duration(envInt(logger, "DEBOUNCE_DELAY_MS", 0)) * time.Millisecond,
		SessionTTL:          time.Duration(envInt(logger, "SESSION_TTL_MINUTES", 0)) * time.Minute,
		CleanupInterval:     time.Duration(envInt(logger, "SESSION_CLEANUP_MINUTES", defaultCleanupMin)) * time.Minute,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
	}

	if script := os.Getenv("MOCK_STT_SCRIPT"); script != "" {
		for _, line := range strings.Split(script, "|") {
			if line = strings.TrimSpace(line); line != "" {
				config.MockScript = append(config.MockScript, line)
			}
		}
	}

	if config.PublicHost == "" {
		logger.Warn("PUBLIC_HOST not set, stream URLs use the request host")
	}
	if config.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, media streams are not authenticated")
	}

	return config
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(logger *zap.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Warn("Ignoring invalid integer setting", zap.String("key", key), zap.String("value", v))
		return fallback
	}
	return n
}
