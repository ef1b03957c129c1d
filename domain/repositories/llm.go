package repositories

import (
	"context"

	"github.com/aarambh/dispatch/server/domain/entities"
)

// Extractor merges a new caller utterance into the record collected so far.
// It returns a full replacement record; merging is the provider's job.
type Extractor interface {
	Extract(ctx context.Context, utterance string, current entities.IncidentRecord, history []string) (entities.IncidentRecord, error)
}

// Verifier audits a record and reports which fields still need asking about,
// most important first
type Verifier interface {
	Verify(ctx context.Context, record entities.IncidentRecord) (entities.VerificationResult, error)
}

// QuestionGenerator phrases one short question targeting a missing field
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, field string, recentTurns []string) (string, error)
}

// IntakeCapabilities bundles the three LLM backed capabilities the intake machine needs
type IntakeCapabilities interface {
	Extractor
	Verifier
	QuestionGenerator
}
