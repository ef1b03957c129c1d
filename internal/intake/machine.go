package intake

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// Machine runs the extract, verify, ask-or-finalize, log cycle. It holds no
// per-session state; every call works on a clone of the state it is given.
type Machine struct {
	steps  []Step
	logger *zap.Logger
}

// NewMachine wires the cycle steps to the capability providers
func NewMachine(caps repositories.IntakeCapabilities, logger *zap.Logger) *Machine {
	return &Machine{
		steps: []Step{
			NewExtractionStep(caps),
			NewVerificationStep(caps, logger),
			NewBranchStep(caps),
			&HistoryUpdateStep{},
		},
		logger: logger,
	}
}

// Advance runs one cycle and returns the next state. The input state is never modified.
func (m *Machine) Advance(ctx context.Context, state *entities.Session, utterance string) (*entities.Session, error) {
	next, _, err := m.Run(ctx, state, utterance)
	return next, err
}

// Run is Advance plus the trace of what each step did
func (m *Machine) Run(ctx context.Context, state *entities.Session, utterance string) (*entities.Session, CycleTrace, error) {
	trace := CycleTrace{StartedAt: time.Now()}
	if state == nil {
		return nil, trace, errors.New("session state is required")
	}
	trace.SessionID = state.ID

	if state.IsComplete {
		return nil, trace, domain.ErrSessionComplete
	}

	cycle := &Cycle{
		Utterance: utterance,
		State:     state.Clone(),
	}

	trace.Steps = make([]StepExecution, len(m.steps))
	for i, step := range m.steps {
		trace.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}

	for i, step := range m.steps {
		trace.Steps[i].State = StepStateRunning
		started := time.Now()
		err := step.Execute(ctx, cycle)
		trace.Steps[i].Duration = time.Since(started)

		if err != nil {
			trace.Steps[i].State = StepStateFailed
			trace.Steps[i].Error = err.Error()
			trace.Error = err.Error()
			trace.Duration = time.Since(trace.StartedAt)
			m.logger.Error("Intake cycle failed",
				zap.String("session_id", state.ID),
				zap.String("step", string(step.ID())),
				zap.Duration("duration", trace.Duration),
				zap.Error(err))
			return nil, trace, err
		}
		trace.Steps[i].State = StepStateCompleted
	}

	trace.Outcome = cycle.Outcome
	if cycle.Outcome == OutcomeAskNext {
		trace.Field = cycle.Verification.MissingFields[0]
	}
	trace.Duration = time.Since(trace.StartedAt)

	m.logger.Info("Intake cycle completed",
		zap.String("session_id", state.ID),
		zap.String("outcome", string(trace.Outcome)),
		zap.String("field", trace.Field),
		zap.Strings("missing_fields", cycle.State.MissingFields),
		zap.Duration("duration", trace.Duration))

	return cycle.State, trace, nil
}
