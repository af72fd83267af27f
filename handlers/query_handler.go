package handlers

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/utils"
)

// QueryService answers a question from the indexed documents.
type QueryService interface {
	Answer(ctx context.Context, question string) (string, error)
}

// QueryHandler handles POST /query
type QueryHandler struct {
	service QueryService
	auditor Auditor
	logger  *zap.Logger
}

// NewQueryHandler creates a QueryHandler. A nil service means the pipeline
// could not be built at startup and every query is answered with 503.
func NewQueryHandler(service QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  logger,
	}
}

// WithAuditor records every answered or failed query with a.
func (h *QueryHandler) WithAuditor(a Auditor) *QueryHandler {
	h.auditor = a
	return h
}

// HandleQuery handles POST /query
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	if h.service == nil {
		_ = utils.WriteServiceUnavailable(w, msgPipelineUnavailable)
		return
	}

	var req models.QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Debug("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	fields := []zap.Field{zap.String("request_id", requestID)}
	var username string
	if user := middleware.GetUserFromContext(ctx); user != nil {
		username = user.Username
		fields = append(fields, zap.String("username", username))
	}

	start := time.Now()
	details := map[string]int{"query_chars": len([]rune(req.Query))}
	answer, err := h.service.Answer(ctx, req.Query)
	if err != nil {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		HandleServiceError(ww, err, h.logger.With(fields...))
		recordAudit(h.auditor, h.logger, r, models.AuditActionQueryFailed, username, ww.Status(), start, details)
		return
	}

	h.logger.Info("query answered", append(fields, zap.Duration("duration", time.Since(start)))...)
	_ = utils.WriteJSON(w, http.StatusOK, models.NewQueryResponse(answer))
	recordAudit(h.auditor, h.logger, r, models.AuditActionQuery, username, http.StatusOK, start, details)
}
