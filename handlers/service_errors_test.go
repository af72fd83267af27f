package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/services/providers"
	"github.com/upb/rag-chatbot/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{
			name:            "validation error",
			err:             services.ErrEmptyQuery,
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "bad_request",
			expectedMessage: "query cannot be empty",
		},
		{
			name:            "unauthorized error",
			err:             services.WrapError(services.ErrInvalidToken, errors.New("token is expired")),
			expectedStatus:  http.StatusUnauthorized,
			expectedError:   "unauthorized",
			expectedMessage: "Could not validate credentials",
		},
		{
			name:            "pipeline unavailable",
			err:             services.ErrPipelineUnavailable,
			expectedStatus:  http.StatusServiceUnavailable,
			expectedError:   "service_unavailable",
			expectedMessage: "RAG pipeline is not available.",
		},
		{
			name:            "upstream timeout",
			err:             services.WrapError(services.ErrUpstreamTimeout, context.DeadlineExceeded),
			expectedStatus:  http.StatusGatewayTimeout,
			expectedError:   "gateway_timeout",
			expectedMessage: msgUpstreamTimeout,
		},
		{
			name:            "provider rejection is a query failure",
			err:             services.WrapError(services.ErrQueryFailed, providers.NewProviderError("groq", "invalid_api_key", "bad key", 401, false, nil)),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "Failed to process the query.",
		},
		{
			name:            "query failed",
			err:             fmt.Errorf("answer: %w", services.WrapError(services.ErrQueryFailed, errors.New("secret cause"))),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "Failed to process the query.",
		},
		{
			name:            "internal error",
			err:             services.WrapInternal("database exploded", errors.New("secret cause")),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: msgInternal,
		},
		{
			name:            "unknown error",
			err:             errors.New("unknown error"),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: msgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.Equal(t, tt.expectedMessage, response.Message)
			assert.NotContains(t, response.Message, "secret cause")
		})
	}
}

func TestHandleServiceError_Cancelled(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, fmt.Errorf("search: %w", context.Canceled), zap.NewNop())

	assert.Empty(t, w.Body.String())
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("structured validation error", func(t *testing.T) {
		type payload struct {
			Query string `json:"query" validate:"required"`
		}
		err := utils.ValidateStruct(&payload{})
		require.Error(t, err)

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "Validation failed", response.Message)
		assert.Contains(t, response.Details, "query")
	})

	t.Run("generic error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("bad input"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad input", response.Message)
	})
}
