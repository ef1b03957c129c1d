package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// MemorySessionRepository is an in-memory implementation of SessionRepository.
// Sessions are stored as clones so callers never share state with the store.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.Session
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates a new in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entities.Session),
	}
}

// Get returns a copy of the session or domain.ErrSessionNotFound
func (m *MemorySessionRepository) Get(ctx context.Context, id string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Save inserts or replaces the session
func (m *MemorySessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes the session; deleting an unknown id is not an error
func (m *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ExpireSessions evicts every session idle past its expiry
func (m *MemorySessionRepository) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, session := range m.sessions {
		if session.IsExpired(now) {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}

// Count returns the number of stored sessions
func (m *MemorySessionRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
