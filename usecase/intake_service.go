package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
	"github.com/aarambh/dispatch/server/internal/intake"
)

// DispatchNotice is appended to the final reply unless it already talks about dispatch
const DispatchNotice = " Dispatching units now."

const (
	RoleCaller   = "caller"
	RoleOperator = "operator"
)

var markupPattern = regexp.MustCompile(`[*_#]`)

// IntakeService runs intake cycles against stored sessions for both the text
// chat and the voice path. Cycles for one session never overlap.
type IntakeService struct {
	machine    *intake.Machine
	sessions   repositories.SessionRepository
	reports    repositories.ReportSink
	audit      repositories.ConversationLog
	sessionTTL time.Duration
	locks      *keyedMutex
	logger     *zap.Logger
}

// NewIntakeService creates a new intake service
func NewIntakeService(
	machine *intake.Machine,
	sessions repositories.SessionRepository,
	reports repositories.ReportSink,
	audit repositories.ConversationLog,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *IntakeService {
	if sessionTTL <= 0 {
		sessionTTL = entities.DefaultSessionTTL
	}
	return &IntakeService{
		machine:    machine,
		sessions:   sessions,
		reports:    reports,
		audit:      audit,
		sessionTTL: sessionTTL,
		locks:      newKeyedMutex(),
		logger:     logger,
	}
}

// StartSession returns the voice session for id, creating it with the opening question if needed
func (s *IntakeService) StartSession(ctx context.Context, id string) (*entities.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.loadOrCreate(ctx, entities.ChannelVoice, id)
}

// GetSession returns a copy of the stored session
func (s *IntakeService) GetSession(ctx context.Context, id string) (*entities.Session, error) {
	return s.sessions.Get(ctx, id)
}

// CloseSession evicts a session. Persisted reports are unaffected.
func (s *IntakeService) CloseSession(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.sessions.Get(ctx, id); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("Session closed", zap.String("session_id", id))
	return nil
}

// Advance runs one intake cycle for a caller utterance on a voice session.
// The report is persisted on the cycle that completes the session and never again.
func (s *IntakeService) Advance(ctx context.Context, sessionID, utterance string) (*domain.CycleOutcome, error) {
	return s.advance(ctx, entities.ChannelVoice, sessionID, utterance)
}

func (s *IntakeService) advance(ctx context.Context, channel entities.Channel, sessionID, utterance string) (*domain.CycleOutcome, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	current, err := s.loadOrCreate(ctx, channel, sessionID)
	if err != nil {
		return nil, err
	}
	if current.IsComplete {
		return &domain.CycleOutcome{Session: current, Reply: BuildReply(current)}, domain.ErrSessionComplete
	}

	if strings.TrimSpace(utterance) != "" {
		s.audit.Log(sessionID, RoleCaller, utterance)
	}

	next, err := s.machine.Advance(ctx, current, utterance)
	if err != nil {
		return nil, err
	}

	next.UpdateLastActive(s.sessionTTL)
	if err := s.sessions.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	outcome := &domain.CycleOutcome{
		Session:   next,
		Completed: !current.IsComplete && next.IsComplete,
		Reply:     BuildReply(next),
	}
	s.audit.Log(sessionID, RoleOperator, outcome.Reply)

	if outcome.Completed {
		if err := s.persist(ctx, next); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

// HandleChat advances a text chat session. An empty session id starts a new session.
func (s *IntakeService) HandleChat(ctx context.Context, msg domain.ChatMessage) (*domain.ChatReply, error) {
	if msg.SessionID == "" {
		msg.SessionID = uuid.New().String()
	}

	outcome, err := s.advance(ctx, entities.ChannelChat, msg.SessionID, msg.Message)
	if outcome == nil {
		return nil, err
	}

	var persistErr *domain.PersistenceError
	if err != nil && !errors.Is(err, domain.ErrSessionComplete) && !errors.As(err, &persistErr) {
		return nil, err
	}

	reply := &domain.ChatReply{
		SessionID:  msg.SessionID,
		Reply:      outcome.Reply,
		IsComplete: outcome.Session.IsComplete,
	}
	if outcome.Session.IsComplete {
		record := outcome.Session.Record
		reply.Record = &record
	}

	if errors.Is(err, domain.ErrSessionComplete) {
		return reply, err
	}
	return reply, nil
}

func (s *IntakeService) loadOrCreate(ctx context.Context, channel entities.Channel, id string) (*entities.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err == nil {
		if session.Channel != channel {
			s.logger.Warn("Session id reused across channels",
				zap.String("session_id", id),
				zap.String("owner", string(session.Channel)),
				zap.String("requested", string(channel)))
			return nil, domain.ErrSessionChannel
		}
		return session, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session = entities.NewSession(id)
	session.Channel = channel
	session.UpdateLastActive(s.sessionTTL)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.logger.Info("Session started", zap.String("session_id", id), zap.String("channel", string(channel)))
	return session, nil
}

func (s *IntakeService) persist(ctx context.Context, session *entities.Session) error {
	if err := s.reports.Persist(ctx, session.ID, session.Record); err != nil {
		persistErr := &domain.PersistenceError{SessionID: session.ID, Err: err}
		s.logger.Error("Failed to persist incident report", zap.Error(persistErr))
		return persistErr
	}
	s.logger.Info("Incident report persisted",
		zap.String("session_id", session.ID),
		zap.String("emergency_type", string(session.Record.EmergencyType)),
		zap.String("location", session.Record.Location))
	return nil
}

// BuildReply turns the session's next question into operator speech, adding the
// dispatch notice once the report is complete and stripping formatting markup
func BuildReply(session *entities.Session) string {
	reply := session.NextQuestion
	if session.IsComplete && !strings.Contains(strings.ToLower(reply), "dispatch") {
		reply += DispatchNotice
	}
	return strings.TrimSpace(markupPattern.ReplaceAllString(reply, ""))
}
