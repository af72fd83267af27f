package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/utils"
)

// Check values
const (
	statusAvailable   = "available"
	statusUnavailable = "unavailable"
	statusHealthy     = "healthy"
	statusUnhealthy   = "unhealthy"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	RAGPipeline string `json:"rag_pipeline"`
	Service     string `json:"service"`
}

// ReadinessResponse is the body of GET /readyz
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Index     *IndexInfo        `json:"index,omitempty"`
}

// IndexInfo describes the live index generation.
type IndexInfo struct {
	Generation string `json:"generation,omitempty"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Chunks     int    `json:"chunks"`
}

// DatabaseChecker is implemented by the credentials database.
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexInspector reports on the live index.
type IndexInspector interface {
	Info(ctx context.Context) (*IndexInfo, error)
}

// GeneratorChecker reports whether the LLM API answers.
type GeneratorChecker interface {
	IsAvailable(ctx context.Context) bool
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	pipelineReady func() bool
	db            DatabaseChecker
	index         IndexInspector
	generator     GeneratorChecker
	logger        *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and index may be nil.
func NewHealthHandler(pipelineReady func() bool, db DatabaseChecker, index IndexInspector, logger *zap.Logger) *HealthHandler {
	if pipelineReady == nil {
		pipelineReady = func() bool { return false }
	}
	return &HealthHandler{
		pipelineReady: pipelineReady,
		db:            db,
		index:         index,
		logger:        logger,
	}
}

// WithGenerator adds the LLM API to the readiness checks.
func (h *HealthHandler) WithGenerator(g GeneratorChecker) *HealthHandler {
	h.generator = g
	return h
}

// HandleHealth handles GET and HEAD /health. It always answers 200 while the
// process is up and reports whether queries can be served.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pipeline := statusUnavailable
	if h.pipelineReady() {
		pipeline = statusAvailable
	}

	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:      statusHealthy,
		RAGPipeline: pipeline,
		Service:     ServiceName,
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.pipelineReady() {
		checks["rag_pipeline"] = statusAvailable
	} else {
		checks["rag_pipeline"] = statusUnavailable
		ready = false
	}

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["credentials_db"] = statusUnhealthy
			ready = false
		} else {
			checks["credentials_db"] = statusHealthy
		}
	}

	var info *IndexInfo
	if h.index != nil {
		var err error
		if info, err = h.index.Info(ctx); err != nil {
			h.logger.Warn("index inspection failed", zap.Error(err))
			checks["vector_index"] = statusUnhealthy
			ready = false
		} else {
			checks["vector_index"] = statusHealthy
		}
	}

	if h.generator != nil {
		if h.generator.IsAvailable(ctx) {
			checks["generator"] = statusAvailable
		} else {
			h.logger.Warn("LLM API is not reachable")
			checks["generator"] = statusUnavailable
			ready = false
		}
	}

	status, httpStatus := "ready", http.StatusOK
	if !ready {
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Index:     info,
	}
	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
