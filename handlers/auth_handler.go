package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/utils"
)

// Authenticator exchanges credentials for an access token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*models.Token, error)
}

// AuthHandler handles the token and current-user endpoints
type AuthHandler struct {
	auth    Authenticator
	auditor Auditor
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// WithAuditor records every login attempt with a.
func (h *AuthHandler) WithAuditor(a Auditor) *AuthHandler {
	h.auditor = a
	return h
}

// HandleToken handles POST /token with an application/x-www-form-urlencoded
// body of username and password.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid form body", nil)
		return
	}

	req := models.LoginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	start := time.Now()
	token, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if services.IsUnauthorizedError(err) {
			h.logger.Info("login rejected",
				zap.String("request_id", requestID),
				zap.String("username", req.Username))
			_ = utils.WriteUnauthorized(w, "Incorrect username or password")
			recordAudit(h.auditor, h.logger, r, models.AuditActionLoginFailed, req.Username, http.StatusUnauthorized, start, nil)
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("token issued",
		zap.String("request_id", requestID),
		zap.String("username", req.Username),
		zap.Time("expires_at", token.ExpiresAt))

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteJSON(w, http.StatusOK, token)
	recordAudit(h.auditor, h.logger, r, models.AuditActionLogin, req.Username, http.StatusOK, start, nil)
}

// HandleMe handles GET /users/me. It must run behind RequireAuth.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, user)
}
