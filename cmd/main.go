package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/adapters/report"
	"github.com/aarambh/dispatch/server/internal/api"
	"github.com/aarambh/dispatch/server/internal/auth"
	"github.com/aarambh/dispatch/server/internal/intake"
	"github.com/aarambh/dispatch/server/internal/websocket"
	"github.com/aarambh/dispatch/server/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file loaded, using process environment")
	}

	config := loadConfig(logger)
	ctx := context.Background()

	// Initialize adapters
	capabilities, err := newCapabilities(ctx, config, logger)
	if err != nil {
		logger.Fatal("Failed to initialize capability provider", zap.String("provider", config.LLMProvider), zap.Error(err))
	}
	speechToText, err := newSpeechToText(config, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech recognizer", zap.String("provider", config.STTProvider), zap.Error(err))
	}
	textToSpeech, err := newTextToSpeech(config, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech synthesizer", zap.String("provider", config.TTSProvider), zap.Error(err))
	}
	store, err := newStorage(ctx, config, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	conversationLog, err := report.NewConversationLog(config.ConversationLogFile)
	if err != nil {
		logger.Fatal("Failed to open conversation log", zap.Error(err))
	}

	// Initialize usecase services
	machine := intake.NewMachine(capabilities, logger)
	intakeService := usecase.NewIntakeService(machine, store.sessions, store.reports, conversationLog, config.SessionTTL, logger)

	var (
		tokenIssuer    api.StreamTokenIssuer
		tokenValidator websocket.StreamTokenValidator
	)
	if config.JWTSecret != "" {
		streamAuth, err := auth.NewStreamAuth(config.JWTSecret, 0)
		if err != nil {
			logger.Fatal("Failed to initialize stream auth", zap.Error(err))
		}
		tokenIssuer = streamAuth
		tokenValidator = streamAuth
	}

	// Initialize WebSocket hub for media streams
	hub := websocket.NewHub(intakeService, speechToText, textToSpeech, tokenValidator,
		websocket.CallConfig{DebounceDelay: config.DebounceDelay}, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	cleanupService := websocket.NewSessionCleanupService(store.sessions, config.CleanupInterval, logger)
	cleanupService.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, intakeService, hub, tokenIssuer, api.TwilioConfig{
		PublicHost: config.PublicHost,
		AuthToken:  config.TwilioAuthToken,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + config.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Dispatch intake server started",
		zap.String("port", config.Port),
		zap.String("llm", config.LLMProvider),
		zap.String("stt", config.STTProvider),
		zap.String("tts", config.TTSProvider),
		zap.String("session_store", config.SessionStore),
		zap.String("report_sink", config.ReportSink))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stopHub()
	cleanupService.Stop()

	for _, closeFn := range store.closers {
		if err := closeFn(shutdownCtx); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}
	if err := conversationLog.Close(); err != nil {
		logger.Error("Failed to close conversation log", zap.Error(err))
	}

	logger.Info("Server exited")
}
