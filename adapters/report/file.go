package report

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

const defaultReportsDir = "incident_reports"

// plainID matches session ids that can be used verbatim in a file name
var plainID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// encodedPrefix marks a base64url encoded id. It cannot occur in a plain id,
// so distinct ids always map to distinct files.
const encodedPrefix = "~"

// FileSink writes one indented JSON document per session to
// {dir}/report_{session_id}.json. Files are created exclusively, so a
// session is never written twice.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

var (
	_ repositories.ReportSink   = (*FileSink)(nil)
	_ repositories.ReportLoader = (*FileSink)(nil)
)

// NewFileSink creates the reports directory if needed
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if dir == "" {
		dir = defaultReportsDir
		logger.Info("Using default reports directory", zap.String("dir", dir))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Path returns where the report for a session lives
func (s *FileSink) Path(sessionID string) string {
	name := sessionID
	if !plainID.MatchString(sessionID) {
		name = encodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(sessionID))
	}
	return filepath.Join(s.dir, "report_"+name+".json")
}

// Persist writes the record; domain.ErrReportExists if the file is already there
func (s *FileSink) Persist(ctx context.Context, sessionID string, record entities.IncidentRecord) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	path := s.Path(sessionID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.ErrReportExists
		}
		return fmt.Errorf("failed to create report file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}

	s.logger.Info("Report saved", zap.String("session_id", sessionID), zap.String("path", path))
	return nil
}

// Load reads a persisted report back
func (s *FileSink) Load(ctx context.Context, sessionID string) (entities.IncidentRecord, error) {
	data, err := os.ReadFile(s.Path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entities.IncidentRecord{}, domain.ErrSessionNotFound
		}
		return entities.IncidentRecord{}, fmt.Errorf("failed to read report: %w", err)
	}

	var record entities.IncidentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return entities.IncidentRecord{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return record, nil
}
