package intake

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// CompletionMessage is what the operator says once the record is sufficient
const CompletionMessage = "Thank you, I have everything I need."

// recentTurns is how much history the question capability sees
const recentTurns = 2

// ExtractionStep merges the utterance into the record
type ExtractionStep struct {
	extractor repositories.Extractor
}

func NewExtractionStep(extractor repositories.Extractor) *ExtractionStep {
	return &ExtractionStep{extractor: extractor}
}

func (s *ExtractionStep) ID() StepID {
	return StepExtraction
}

func (s *ExtractionStep) Execute(ctx context.Context, c *Cycle) error {
	history := c.State.History.Last(len(c.State.History))
	record, err := s.extractor.Extract(ctx, c.Utterance, c.State.Record, history)
	if err != nil {
		return &domain.CapabilityError{Stage: string(StepExtraction), Err: err}
	}
	if err := record.Validate(); err != nil {
		return &domain.CapabilityError{Stage: string(StepExtraction), Err: fmt.Errorf("malformed record: %w", err)}
	}

	c.State.LatestTranscript = c.Utterance
	c.State.Record = record
	return nil
}

// VerificationStep audits the record. A verifier claiming a medical record is
// sufficient without a concrete danger is overruled.
type VerificationStep struct {
	verifier repositories.Verifier
	logger   *zap.Logger
}

func NewVerificationStep(verifier repositories.Verifier, logger *zap.Logger) *VerificationStep {
	return &VerificationStep{verifier: verifier, logger: logger}
}

func (s *VerificationStep) ID() StepID {
	return StepVerification
}

func (s *VerificationStep) Execute(ctx context.Context, c *Cycle) error {
	result, err := s.verifier.Verify(ctx, c.State.Record)
	if err != nil {
		return &domain.CapabilityError{Stage: string(StepVerification), Err: err}
	}
	if !result.IsSufficient && len(result.MissingFields) == 0 {
		return &domain.CapabilityError{
			Stage: string(StepVerification),
			Err:   errors.New("insufficient result without missing fields"),
		}
	}

	if result.IsSufficient && !c.State.Record.HasConcreteDanger() {
		s.logger.Warn("Verifier accepted medical record without a concrete danger",
			zap.String("session_id", c.State.ID),
			zap.String("immediate_dangers", c.State.Record.ImmediateDangers))
		result = entities.VerificationResult{
			IsSufficient:  false,
			MissingFields: append([]string{entities.FieldImmediateDangers}, result.MissingFields...),
		}
	}

	c.Verification = result
	c.State.MissingFields = make([]string, len(result.MissingFields))
	copy(c.State.MissingFields, result.MissingFields)
	return nil
}

// BranchStep finalizes or asks about the first missing field
type BranchStep struct {
	questions repositories.QuestionGenerator
}

func NewBranchStep(questions repositories.QuestionGenerator) *BranchStep {
	return &BranchStep{questions: questions}
}

func (s *BranchStep) ID() StepID {
	return StepBranch
}

func (s *BranchStep) Execute(ctx context.Context, c *Cycle) error {
	if c.Verification.IsSufficient {
		c.Outcome = OutcomeFinalize
		c.State.MarkComplete()
		c.State.NextQuestion = CompletionMessage
		return nil
	}

	c.Outcome = OutcomeAskNext
	field := c.Verification.MissingFields[0]
	question, err := s.questions.GenerateQuestion(ctx, field, c.State.History.Last(recentTurns))
	if err != nil {
		return &domain.CapabilityError{Stage: "question_generation", Err: err}
	}
	if question == "" {
		return &domain.CapabilityError{Stage: "question_generation", Err: errors.New("empty question")}
	}
	c.State.NextQuestion = question
	return nil
}

// HistoryUpdateStep logs the caller turn and, while the loop continues, the operator turn
type HistoryUpdateStep struct{}

func (s *HistoryUpdateStep) ID() StepID {
	return StepHistoryUpdate
}

func (s *HistoryUpdateStep) Execute(ctx context.Context, c *Cycle) error {
	c.State.History.AppendCaller(c.Utterance)
	if !c.State.IsComplete {
		c.State.History.AppendOperator(c.State.NextQuestion)
	}
	return nil
}
