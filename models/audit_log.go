package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionLogin       AuditAction = "login"
	AuditActionLoginFailed AuditAction = "login_failed"
	AuditActionQuery       AuditAction = "query"
	AuditActionQueryFailed AuditAction = "query_failed"
)

// AuditLog is one entry of the access trail. Question and answer text are
// never recorded.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Action     AuditAction     `json:"action" db:"action"`
	Username   string          `json:"username" db:"username"`
	RequestID  string          `json:"request_id,omitempty" db:"request_id"`
	IPAddress  string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string          `json:"user_agent,omitempty" db:"user_agent"`
	StatusCode int             `json:"status_code" db:"status_code"`
	LatencyMs  int             `json:"latency_ms" db:"latency_ms"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, username string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Username:  username,
		Timestamp: time.Now().UTC(),
	}
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithOutcome sets the response status and how long the request took
func (a *AuditLog) WithOutcome(statusCode int, latency time.Duration) *AuditLog {
	a.StatusCode = statusCode
	a.LatencyMs = int(latency.Milliseconds())
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
