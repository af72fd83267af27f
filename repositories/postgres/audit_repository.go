package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, action, username, request_id, ip_address, user_agent,
			status_code, latency_ms, details, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		log.ID,
		string(log.Action),
		log.Username,
		nullString(log.RequestID),
		nullString(log.IPAddress),
		nullString(log.UserAgent),
		log.StatusCode,
		log.LatencyMs,
		details,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}
