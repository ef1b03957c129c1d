package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig holds configuration for the OpenAI capability provider
type OpenAIConfig struct {
	APIKey         string // Required
	BaseURL        string // Optional, for compatible gateways
	Model          string // Optional, defaults to gpt-4o-mini
	TimeoutSeconds int    // Optional, per capability call
}

// OpenAICapabilities implements the intake capabilities with chat completions in JSON mode
type OpenAICapabilities struct {
	client  *openai.Client
	logger  *zap.Logger
	model   string
	timeout time.Duration
}

var _ repositories.IntakeCapabilities = (*OpenAICapabilities)(nil)

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("openai API key is required")
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// NewOpenAIConfigFromEnv reads OPENAI_* variables
func NewOpenAIConfigFromEnv() OpenAIConfig {
	config := OpenAIConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("OPENAI_MODEL"),
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.TimeoutSeconds = n
		}
	}
	return config
}

// NewOpenAICapabilities creates the OpenAI client and applies defaults
func NewOpenAICapabilities(config OpenAIConfig, logger *zap.Logger) (*OpenAICapabilities, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
		logger.Info("Using custom OpenAI base URL", zap.String("baseURL", config.BaseURL))
	}

	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
		logger.Info("Using default model", zap.String("model", model))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &OpenAICapabilities{
		client:  openai.NewClientWithConfig(clientConfig),
		logger:  logger,
		model:   model,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Extract merges the utterance into the record
func (o *OpenAICapabilities) Extract(ctx context.Context, utterance string, current entities.IncidentRecord, history []string) (entities.IncidentRecord, error) {
	prompt, err := extractionPrompt(utterance, current, history)
	if err != nil {
		return entities.IncidentRecord{}, err
	}
	text, err := o.complete(ctx, extractorSystemPrompt, prompt, true, 0)
	if err != nil {
		return entities.IncidentRecord{}, err
	}
	return decodeRecord(text)
}

// Verify audits the record
func (o *OpenAICapabilities) Verify(ctx context.Context, record entities.IncidentRecord) (entities.VerificationResult, error) {
	prompt, err := verificationPrompt(record)
	if err != nil {
		return entities.VerificationResult{}, err
	}
	text, err := o.complete(ctx, verifierSystemPrompt, prompt, true, 0)
	if err != nil {
		return entities.VerificationResult{}, err
	}
	return decodeVerification(text)
}

// GenerateQuestion asks for one missing field
func (o *OpenAICapabilities) GenerateQuestion(ctx context.Context, field string, recentTurns []string) (string, error) {
	text, err := o.complete(ctx, questionSystemPrompt, questionPrompt(field, recentTurns), false, defaultQuestionTokens)
	if err != nil {
		return "", err
	}
	return cleanQuestion(text)
}

func (o *OpenAICapabilities) complete(ctx context.Context, system, prompt string, jsonMode bool, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Warn("OpenAI completion failed", zap.Error(err))
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}
