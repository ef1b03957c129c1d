package intake

import (
	"context"
	"time"

	"github.com/aarambh/dispatch/server/domain/entities"
)

// StepID identifies a stage of the intake cycle
type StepID string

const (
	StepExtraction    StepID = "extraction"
	StepVerification  StepID = "verification"
	StepBranch        StepID = "branch"
	StepHistoryUpdate StepID = "history_update"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateFailed    StepState = "failed"
)

// Outcome is where a cycle's branch went
type Outcome string

const (
	OutcomeAskNext  Outcome = "ask_next"
	OutcomeFinalize Outcome = "finalize"
)

// Cycle is the working data one pass of the machine threads through its steps.
// State is a clone of the caller's session and becomes the result on success.
type Cycle struct {
	Utterance    string
	State        *entities.Session
	Verification entities.VerificationResult
	Outcome      Outcome
}

// Step is one stage of the cycle
type Step interface {
	ID() StepID
	Execute(ctx context.Context, c *Cycle) error
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID       StepID        `json:"id"`
	State    StepState     `json:"state"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CycleTrace records what one cycle did, for logging and tests
type CycleTrace struct {
	SessionID string          `json:"session_id"`
	Steps     []StepExecution `json:"steps"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	Field     string          `json:"field,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
}
