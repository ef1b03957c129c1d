package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

const defaultCollection = "incident_reports"

// Config holds Firestore settings
type Config struct {
	ProjectID       string // Required
	CredentialsFile string // Optional, default credentials otherwise
	Collection      string // Optional
}

// NewConfigFromEnv reads FIRESTORE_* and FIREBASE_CREDENTIALS_FILE
func NewConfigFromEnv() Config {
	return Config{
		ProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
		CredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		Collection:      os.Getenv("FIRESTORE_REPORTS_COLLECTION"),
	}
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.ProjectID == "" {
		return fmt.Errorf("firestore project ID is required")
	}
	return nil
}

type reportDocument struct {
	SessionID   string                  `firestore:"session_id"`
	Record      entities.IncidentRecord `firestore:"record"`
	PersistedAt time.Time               `firestore:"persisted_at"`
}

// ReportRepository stores one document per session, keyed by session id
type ReportRepository struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

var (
	_ repositories.ReportSink   = (*ReportRepository)(nil)
	_ repositories.ReportLoader = (*ReportRepository)(nil)
)

// NewReportRepository opens the Firestore client
func NewReportRepository(ctx context.Context, config Config, logger *zap.Logger) (*ReportRepository, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	collection := config.Collection
	if collection == "" {
		collection = defaultCollection
		logger.Info("Using default collection", zap.String("collection", collection))
	}

	return &ReportRepository{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Persist creates the document; Create fails if it already exists, which maps to domain.ErrReportExists
func (r *ReportRepository) Persist(ctx context.Context, sessionID string, record entities.IncidentRecord) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	ref := r.client.Collection(r.collection).Doc(sessionID)
	_, err := ref.Create(ctx, reportDocument{
		SessionID:   sessionID,
		Record:      record,
		PersistedAt: time.Now().UTC(),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.ErrReportExists
		}
		return fmt.Errorf("failed to create report document: %w", err)
	}

	r.logger.Info("Report saved", zap.String("session_id", sessionID), zap.String("collection", r.collection))
	return nil
}

// Load returns the stored record for a session
func (r *ReportRepository) Load(ctx context.Context, sessionID string) (entities.IncidentRecord, error) {
	snap, err := r.client.Collection(r.collection).Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return entities.IncidentRecord{}, domain.ErrSessionNotFound
		}
		return entities.IncidentRecord{}, fmt.Errorf("failed to load report: %w", err)
	}

	var doc reportDocument
	if err := snap.DataTo(&doc); err != nil {
		return entities.IncidentRecord{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return doc.Record, nil
}

// Close releases the client
func (r *ReportRepository) Close() error {
	return r.client.Close()
}
