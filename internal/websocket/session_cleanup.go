package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain/repositories"
)

// DefaultCleanupInterval is how often idle sessions are swept
const DefaultCleanupInterval = 5 * time.Minute

// SessionCleanupService evicts intake sessions that have been idle past their TTL
type SessionCleanupService struct {
	sessionRepo repositories.SessionRepository
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(sessionRepo repositories.SessionRepository, interval time.Duration, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &SessionCleanupService{
		sessionRepo: sessionRepo,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	<-s.stoppedChan
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunCleanup()
		}
	}
}

// RunCleanup performs one sweep of expired sessions
func (s *SessionCleanupService) RunCleanup() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.sessionRepo.ExpireSessions(ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to expire sessions", zap.Error(err))
		return 0
	}

	if expired > 0 {
		s.logger.Info("Expired idle sessions", zap.Int("count", expired))
	}
	return expired
}
