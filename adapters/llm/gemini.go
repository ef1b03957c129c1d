package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

const (
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultTimeoutSeconds = 30
	defaultMaxRetries     = 3
	defaultQuestionTokens = 50
	defaultQuestionTemp   = 0.1
	defaultExtractionTemp = 0.0
	retryBackoffUnit      = time.Second
)

// GeminiConfig holds configuration for the Gemini capability provider
type GeminiConfig struct {
	APIKey         string // Required
	Model          string // Optional, defaults to gemini-2.0-flash
	TimeoutSeconds int    // Optional, per capability call
	MaxRetries     int    // Optional, attempts per capability call
}

// GeminiCapabilities implements extraction, verification and question
// generation on top of the Gemini API
type GeminiCapabilities struct {
	client         *genai.Client
	logger         *zap.Logger
	model          string
	timeoutSeconds int
	maxRetries     int
}

var _ repositories.IntakeCapabilities = (*GeminiCapabilities)(nil)

var recordSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		entities.FieldCallerName: {
			Type:        genai.TypeString,
			Description: "Full name of the caller, N/A when unknown.",
		},
		entities.FieldEmergencyType: {
			Type:        genai.TypeString,
			Description: "Category of the emergency.",
			Enum:        []string{"medical", "fire", "police", "traffic_accident", "hazmat", "unknown"},
		},
		entities.FieldLocation: {
			Type:        genai.TypeString,
			Description: "Dispatchable address with street or landmark and city. N/A when unknown.",
		},
		entities.FieldPeopleInvolved: {
			Type:        genai.TypeInteger,
			Description: "Count of people affected.",
		},
		entities.FieldAgeGroup: {
			Type:        genai.TypeString,
			Description: "Approximate age of the victims.",
			Enum:        []string{"child", "adult", "senior", "mixed", "unknown"},
		},
		entities.FieldImmediateDangers: {
			Type:        genai.TypeString,
			Description: "Active threats to life. For medical cases the severity, never None.",
		},
		entities.FieldMedicalConditions: {
			Type:        genai.TypeString,
			Description: "Specific conditions such as heart attack, stroke or asthma.",
		},
		entities.FieldDescription: {
			Type:        genai.TypeString,
			Description: "Concise summary of the incident.",
		},
	},
	Required: []string{
		entities.FieldCallerName,
		entities.FieldEmergencyType,
		entities.FieldLocation,
		entities.FieldPeopleInvolved,
		entities.FieldAgeGroup,
		entities.FieldImmediateDangers,
		entities.FieldMedicalConditions,
		entities.FieldDescription,
	},
}

var verificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"is_sufficient": {
			Type:        genai.TypeBoolean,
			Description: "True only if all critical fields are valid.",
		},
		"missing_fields": {
			Type:        genai.TypeArray,
			Description: "Invalid fields, most important first.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"is_sufficient", "missing_fields"},
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("gemini API key is required")
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries must be positive, got %d", config.MaxRetries)
	}
	return nil
}

// NewGeminiConfigFromEnv reads GEMINI_* variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxRetries = n
		}
	}
	return config
}

// NewGeminiCapabilities creates the Gemini client and applies defaults
func NewGeminiCapabilities(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiCapabilities, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &GeminiCapabilities{
		client:         client,
		logger:         logger,
		model:          model,
		timeoutSeconds: timeoutSeconds,
		maxRetries:     maxRetries,
	}, nil
}

// Extract merges the utterance into the record
func (g *GeminiCapabilities) Extract(ctx context.Context, utterance string, current entities.IncidentRecord, history []string) (entities.IncidentRecord, error) {
	prompt, err := extractionPrompt(utterance, current, history)
	if err != nil {
		return entities.IncidentRecord{}, err
	}

	text, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(extractorSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    recordSchema,
		Temperature:       genai.Ptr(float32(defaultExtractionTemp)),
	})
	if err != nil {
		return entities.IncidentRecord{}, err
	}
	return decodeRecord(text)
}

// Verify audits the record
func (g *GeminiCapabilities) Verify(ctx context.Context, record entities.IncidentRecord) (entities.VerificationResult, error) {
	prompt, err := verificationPrompt(record)
	if err != nil {
		return entities.VerificationResult{}, err
	}

	text, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(verifierSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    verificationSchema,
		Temperature:       genai.Ptr(float32(defaultExtractionTemp)),
	})
	if err != nil {
		return entities.VerificationResult{}, err
	}
	return decodeVerification(text)
}

// GenerateQuestion asks for one missing field
func (g *GeminiCapabilities) GenerateQuestion(ctx context.Context, field string, recentTurns []string) (string, error) {
	text, err := g.generate(ctx, questionPrompt(field, recentTurns), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(questionSystemPrompt, genai.RoleUser),
		MaxOutputTokens:   defaultQuestionTokens,
		Temperature:       genai.Ptr(float32(defaultQuestionTemp)),
	})
	if err != nil {
		return "", err
	}
	return cleanQuestion(text)
}

// generate sends one prompt with retries and returns the concatenated text parts
func (g *GeminiCapabilities) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.timeoutSeconds)*time.Second)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < g.maxRetries-1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("gemini request cancelled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * retryBackoffUnit):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no content")
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
