package entities

import (
	"errors"
	"time"
)

// InitialQuestion is what the operator says before the caller has said anything
const InitialQuestion = "911, what is your emergency?"

// DefaultSessionTTL is how long an idle session is kept around
const DefaultSessionTTL = 30 * time.Minute

// Channel is how a caller reaches the operator. A session is advanced only
// through the channel that created it.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
)

// VerificationResult is the outcome of auditing a record for completeness
type VerificationResult struct {
	IsSufficient  bool     `json:"is_sufficient" bson:"is_sufficient"`
	MissingFields []string `json:"missing_fields" bson:"missing_fields"`
}

// Session is the per-conversation envelope the intake machine advances.
// It is owned by exactly one conversation (a phone call or a text chat).
type Session struct {
	ID               string              `json:"session_id" bson:"session_id"`
	Channel          Channel             `json:"channel" bson:"channel"`
	LatestTranscript string              `json:"latest_transcript" bson:"latest_transcript"`
	Record           IncidentRecord      `json:"record" bson:"record"`
	MissingFields    []string            `json:"missing_fields" bson:"missing_fields"`
	NextQuestion     string              `json:"next_question" bson:"next_question"`
	IsComplete       bool                `json:"is_complete" bson:"is_complete"`
	History          ConversationHistory `json:"history" bson:"history"`
	CreatedAt        time.Time           `json:"created_at" bson:"created_at"`
	LastActiveAt     time.Time           `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt        time.Time           `json:"expires_at" bson:"expires_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// NewSession creates a session with an empty record and the opening question
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		Record:        NewIncidentRecord(),
		MissingFields: make([]string, 0),
		NextQuestion:  InitialQuestion,
		History:       NewConversationHistory(),
		CreatedAt:     now,
		LastActiveAt:  now,
		ExpiresAt:     now.Add(DefaultSessionTTL),
	}
}

// Clone returns a deep copy so a cycle can build the next state without
// touching the previous one
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.MissingFields != nil {
		out.MissingFields = make([]string, len(s.MissingFields))
		copy(out.MissingFields, s.MissingFields)
	}
	out.History = s.History.Clone()
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(ttl)
}

// IsExpired checks if the session has been idle past its expiration
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// MarkComplete flags the session as finished. It never flips back.
func (s *Session) MarkComplete() {
	if s.IsComplete {
		return
	}
	now := time.Now()
	s.IsComplete = true
	s.CompletedAt = &now
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session_id is required")
	}
	return s.Record.Validate()
}
