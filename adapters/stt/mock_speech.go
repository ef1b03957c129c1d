package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

// defaultFramesPerUtterance is one second of 20ms telephony frames
const defaultFramesPerUtterance = 50

// MockSpeechToText replays a script of caller utterances, one every
// framesPerUtterance audio frames
type MockSpeechToText struct {
	logger             *zap.Logger
	script             []string
	framesPerUtterance int
}

// NewMockSpeechToText creates a new scripted speech-to-text service
func NewMockSpeechToText(logger *zap.Logger, script []string, framesPerUtterance int) *MockSpeechToText {
	if framesPerUtterance <= 0 {
		framesPerUtterance = defaultFramesPerUtterance
	}
	return &MockSpeechToText{
		logger:             logger,
		script:             script,
		framesPerUtterance: framesPerUtterance,
	}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.Int("scriptLines", len(s.script)))

	return &MockSpeechToTextStream{
		logger:             s.logger,
		script:             append([]string(nil), s.script...),
		framesPerUtterance: s.framesPerUtterance,
		results:            make(chan repositories.TranscriptFragment, fragmentBuffer),
	}, nil
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger             *zap.Logger
	script             []string
	framesPerUtterance int
	results            chan repositories.TranscriptFragment

	mu     sync.Mutex
	frames int
	closed bool
}

// Stream counts frames and emits the next scripted line as a final fragment
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(data) == 0 {
		return nil
	}

	m.frames++
	if m.frames%m.framesPerUtterance != 0 || len(m.script) == 0 {
		return nil
	}

	line := m.script[0]
	m.script = m.script[1:]
	m.logger.Debug("Mock recognizer emitting line", zap.String("text", line))

	select {
	case m.results <- repositories.TranscriptFragment{Text: line, IsFinal: true}:
	default:
		m.logger.Warn("Mock recognizer result dropped, consumer is behind")
	}
	return nil
}

func (m *MockSpeechToTextStream) Results() <-chan repositories.TranscriptFragment {
	return m.results
}

func (m *MockSpeechToTextStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.results)
	}
	return nil
}
