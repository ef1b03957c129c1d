package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
)

// These tests require a running MongoDB instance (skipped if MONGODB_URI is not set)
func newTestClient(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, Config{URI: uri, Database: "dispatch_test"}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Database.Drop(ctx)
		_ = client.Close(ctx)
	})
	return client
}

func TestSessionRepository_Integration(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	repo, err := NewSessionRepository(ctx, client.Database, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionRepository failed: %v", err)
	}

	session := entities.NewSession("call-mongo-1")
	session.History.AppendCaller("there is a fire")
	if err := repo.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, "call-mongo-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.History) != 1 || got.Record.Location != entities.NotAvailable {
		t.Errorf("unexpected session %+v", got)
	}

	got.ExpiresAt = time.Now().Add(-time.Minute)
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	n, err := repo.ExpireSessions(ctx, time.Now())
	if err != nil || n != 1 {
		t.Errorf("ExpireSessions() = %d, %v", n, err)
	}
	if _, err := repo.Get(ctx, "call-mongo-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestReportRepository_Integration(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	repo, err := NewReportRepository(ctx, client.Database, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReportRepository failed: %v", err)
	}

	record := entities.NewIncidentRecord()
	record.EmergencyType = entities.EmergencyTypeFire
	if err := repo.Persist(ctx, "call-mongo-2", record); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := repo.Persist(ctx, "call-mongo-2", record); !errors.Is(err, domain.ErrReportExists) {
		t.Errorf("expected ErrReportExists, got %v", err)
	}

	loaded, err := repo.Load(ctx, "call-mongo-2")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != record {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, record)
	}
}
