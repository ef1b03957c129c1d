package repositories

import (
	"context"
	"time"

	"github.com/aarambh/dispatch/server/domain/entities"
)

// SessionRepository keeps in-flight intake sessions keyed by session or call id
type SessionRepository interface {
	Get(ctx context.Context, id string) (*entities.Session, error)
	Save(ctx context.Context, session *entities.Session) error
	Delete(ctx context.Context, id string) error
	// ExpireSessions evicts every session idle past its expiry and returns how many went
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}

// ReportSink stores the final record of a completed session, once
type ReportSink interface {
	Persist(ctx context.Context, sessionID string, record entities.IncidentRecord) error
}

// ReportLoader reads a persisted report back
type ReportLoader interface {
	Load(ctx context.Context, sessionID string) (entities.IncidentRecord, error)
}

// ConversationLog is the audit trail of every spoken or typed turn
type ConversationLog interface {
	Log(sessionID, role, text string)
}
