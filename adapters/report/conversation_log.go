package report

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

const defaultConversationLogFile = "conversation_logs.txt"

// ConversationLog appends every caller and operator turn as a JSON line
type ConversationLog struct {
	logger *zap.Logger
}

var _ repositories.ConversationLog = (*ConversationLog)(nil)

// NewConversationLog opens (or creates) the audit file for appending
func NewConversationLog(path string) (*ConversationLog, error) {
	if path == "" {
		path = defaultConversationLogFile
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Sampling = nil
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "text"

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation log: %w", err)
	}
	return &ConversationLog{logger: logger}, nil
}

// NewConversationLogWithLogger wraps an existing logger, used in tests
func NewConversationLogWithLogger(logger *zap.Logger) *ConversationLog {
	return &ConversationLog{logger: logger}
}

// Log records one turn
func (c *ConversationLog) Log(sessionID, role, text string) {
	c.logger.Info(text,
		zap.String("session_id", sessionID),
		zap.String("role", role))
}

// Close flushes the file
func (c *ConversationLog) Close() error {
	return c.logger.Sync()
}
