package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/adapters"
	"github.com/aarambh/dispatch/server/adapters/firestore"
	"github.com/aarambh/dispatch/server/adapters/llm"
	"github.com/aarambh/dispatch/server/adapters/mongo"
	"github.com/aarambh/dispatch/server/adapters/report"
	"github.com/aarambh/dispatch/server/adapters/stt"
	"github.com/aarambh/dispatch/server/adapters/tts"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// closer releases a resource on shutdown
type closer func(ctx context.Context) error

func newCapabilities(ctx context.Context, config serverConfig, logger *zap.Logger) (repositories.IntakeCapabilities, error) {
	switch config.LLMProvider {
	case providerGemini:
		return llm.NewGeminiCapabilities(ctx, llm.NewGeminiConfigFromEnv(), logger)
	case providerOpenAI:
		return llm.NewOpenAICapabilities(llm.NewOpenAIConfigFromEnv(), logger)
	case providerMock:
		logger.Warn("Using rule based mock capabilities")
		return llm.NewMockCapabilities(), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", config.LLMProvider)
	}
}

func newSpeechToText(config serverConfig, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch config.STTProvider {
	case providerDeepgram:
		return stt.NewDeepgramSpeechToText(stt.NewDeepgramConfigFromEnv(), logger)
	case providerGoogle:
		return stt.NewGoogleSpeechToText(logger), nil
	case providerMock:
		return stt.NewMockSpeechToText(logger, config.MockScript, 0), nil
	default:
		return nil, fmt.Errorf("unknown STT_PROVIDER %q", config.STTProvider)
	}
}

func newTextToSpeech(config serverConfig, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch config.TTSProvider {
	case providerDeepgram:
		return tts.NewDeepgramTTS(tts.NewDeepgramTTSConfigFromEnv(), logger)
	case providerEleven:
		return tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
	case providerMock:
		return tts.NewMockTTS(), nil
	default:
		return nil, fmt.Errorf("unknown TTS_PROVIDER %q", config.TTSProvider)
	}
}

// storage bundles the session store and report sink, sharing one Mongo client when both use it
type storage struct {
	sessions repositories.SessionRepository
	reports  repositories.ReportSink
	closers  []closer
}

func newStorage(ctx context.Context, config serverConfig, logger *zap.Logger) (*storage, error) {
	s := &storage{}

	var mongoClient *mongo.Client
	connectMongo := func() (*mongo.Client, error) {
		if mongoClient != nil {
			return mongoClient, nil
		}
		client, err := mongo.NewClient(ctx, mongo.NewConfigFromEnv(), logger)
		if err != nil {
			return nil, err
		}
		mongoClient = client
		s.closers = append(s.closers, client.Close)
		return client, nil
	}

	switch config.SessionStore {
	case storeMemory:
		s.sessions = adapters.NewMemorySessionRepository()
	case storeMongo:
		client, err := connectMongo()
		if err != nil {
			return nil, err
		}
		repo, err := mongo.NewSessionRepository(ctx, client.Database, logger)
		if err != nil {
			return nil, err
		}
		s.sessions = repo
	default:
		return nil, fmt.Errorf("unknown SESSION_STORE %q", config.SessionStore)
	}

	switch config.ReportSink {
	case sinkFile:
		sink, err := report.NewFileSink(config.ReportsDir, logger)
		if err != nil {
			return nil, err
		}
		s.reports = sink
	case storeMongo:
		client, err := connectMongo()
		if err != nil {
			return nil, err
		}
		repo, err := mongo.NewReportRepository(ctx, client.Database, logger)
		if err != nil {
			return nil, err
		}
		s.reports = repo
	case sinkFirestore:
		repo, err := firestore.NewReportRepository(ctx, firestore.NewConfigFromEnv(), logger)
		if err != nil {
			return nil, err
		}
		s.reports = repo
		s.closers = append(s.closers, func(context.Context) error { return repo.Close() })
	default:
		return nil, fmt.Errorf("unknown REPORT_SINK %q", config.ReportSink)
	}

	return s, nil
}
