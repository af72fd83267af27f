package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/models"
)

// Auditor records access events. LogEvent must not block the request.
type Auditor interface {
	LogEvent(log *models.AuditLog) error
}

// recordAudit queues one access event for r. A nil auditor records nothing.
func recordAudit(a Auditor, logger *zap.Logger, r *http.Request, action models.AuditAction, username string, status int, start time.Time, details interface{}) {
	if a == nil {
		return
	}
	entry := models.NewAuditLog(action, username).
		WithRequest(middleware.GetRequestIDFromContext(r.Context()), r.RemoteAddr, r.UserAgent()).
		WithOutcome(status, time.Since(start))
	if details != nil {
		entry.WithDetails(details)
	}
	if err := a.LogEvent(entry); err != nil {
		logger.Debug("audit event not recorded", zap.String("action", string(action)), zap.Error(err))
	}
}
