package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/utils"
)

// Client-facing messages. Internal causes are logged, never returned.
const (
	msgPipelineUnavailable = "RAG pipeline is not available."
	msgQueryFailed         = "Failed to process the query."
	msgUpstreamTimeout     = "The language model did not respond in time."
	msgInternal            = "An internal error occurred"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case errors.Is(err, context.Canceled):
		// The client went away; nobody is left to read a response.
		logger.Debug("request cancelled by client", zap.Error(err))
		return

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, publicMessage(err), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, "Could not validate credentials")

	case services.IsUnavailableError(err):
		logger.Warn("service unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, msgPipelineUnavailable)

	case services.IsTimeoutError(err):
		logger.Error("upstream timeout", zap.Error(err))
		writeErr = utils.WriteGatewayTimeout(w, msgUpstreamTimeout)

	case errors.Is(err, services.ErrQueryFailed):
		logger.Error("query failed", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, msgQueryFailed)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, msgInternal)

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, msgInternal)
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", utils.FieldDetails(err)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// publicMessage returns the message of the outermost domain error without
// the wrapped cause.
func publicMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
