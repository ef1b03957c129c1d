package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// reportDocument is how a finished report is stored
type reportDocument struct {
	SessionID   string                  `bson:"session_id"`
	Record      entities.IncidentRecord `bson:"record"`
	PersistedAt time.Time               `bson:"persisted_at"`
}

// ReportRepository is a write-once report sink backed by the
// "incident_reports" collection
type ReportRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var (
	_ repositories.ReportSink   = (*ReportRepository)(nil)
	_ repositories.ReportLoader = (*ReportRepository)(nil)
)

// NewReportRepository creates the repository and the unique index that
// enforces one report per session
func NewReportRepository(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*ReportRepository, error) {
	collection := db.Collection("incident_reports")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create report index: %w", err)
	}

	return &ReportRepository{
		collection: collection,
		logger:     logger,
	}, nil
}

// Persist inserts the report; a second insert for the same session returns domain.ErrReportExists
func (r *ReportRepository) Persist(ctx context.Context, sessionID string, record entities.IncidentRecord) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	_, err := r.collection.InsertOne(ctx, reportDocument{
		SessionID:   sessionID,
		Record:      record,
		PersistedAt: time.Now().UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrReportExists
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}

	r.logger.Info("Report saved", zap.String("session_id", sessionID))
	return nil
}

// Load returns the stored record for a session
func (r *ReportRepository) Load(ctx context.Context, sessionID string) (entities.IncidentRecord, error) {
	var doc reportDocument
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.IncidentRecord{}, domain.ErrSessionNotFound
		}
		return entities.IncidentRecord{}, fmt.Errorf("failed to load report: %w", err)
	}
	return doc.Record, nil
}
