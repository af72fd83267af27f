package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/utils"
)

// MockQueryService is a mock implementation of QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Answer(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func newQueryRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUser(req.Context(), &models.User{Username: "testuser"}))
}

func TestHandleQuery(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful answer", func(t *testing.T) {
		mockService := new(MockQueryService)
		handler := NewQueryHandler(mockService, logger)

		mockService.On("Answer", mock.Anything, "What is a digital twin?").
			Return("A digital twin is a virtual replica of a robot.", nil)

		w := httptest.NewRecorder()
		handler.HandleQuery(w, newQueryRequest(`{"query":"What is a digital twin?","session_id":"abc"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"answer":"A digital twin is a virtual replica of a robot.","sources":[]}`, w.Body.String())
		mockService.AssertExpectations(t)
	})

	t.Run("empty query returns 400", func(t *testing.T) {
		mockService := new(MockQueryService)
		handler := NewQueryHandler(mockService, logger)

		for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
			w := httptest.NewRecorder()
			handler.HandleQuery(w, newQueryRequest(body))

			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		mockService.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		mockService := new(MockQueryService)
		handler := NewQueryHandler(mockService, logger)

		for _, body := range []string{`not json`, ``, `{"query":"a"}{"query":"b"}`} {
			w := httptest.NewRecorder()
			handler.HandleQuery(w, newQueryRequest(body))

			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		mockService.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
	})

	t.Run("pipeline unavailable returns 503", func(t *testing.T) {
		handler := NewQueryHandler(nil, logger)

		w := httptest.NewRecorder()
		handler.HandleQuery(w, newQueryRequest(`{"query":"What is a digital twin?"}`))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "RAG pipeline is not available.", response.Message)
	})

	t.Run("generation failure returns 500", func(t *testing.T) {
		mockService := new(MockQueryService)
		handler := NewQueryHandler(mockService, logger)

		mockService.On("Answer", mock.Anything, "q").
			Return("", services.WrapError(services.ErrQueryFailed, assert.AnError))

		w := httptest.NewRecorder()
		handler.HandleQuery(w, newQueryRequest(`{"query":"q"}`))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "Failed to process the query.", response.Message)
	})

	t.Run("upstream timeout returns 504", func(t *testing.T) {
		mockService := new(MockQueryService)
		handler := NewQueryHandler(mockService, logger)

		mockService.On("Answer", mock.Anything, "q").
			Return("", services.WrapError(services.ErrUpstreamTimeout, context.DeadlineExceeded))

		w := httptest.NewRecorder()
		handler.HandleQuery(w, newQueryRequest(`{"query":"q"}`))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}
