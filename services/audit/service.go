// Package audit records logins and queries asynchronously so the access
// trail never slows down a request.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
)

var (
	// ErrNotStarted is returned when events are logged before Start or after Stop.
	ErrNotStarted = errors.New("audit service not started")

	// ErrBufferFull is returned when an event is dropped because the workers
	// cannot keep up.
	ErrBufferFull = errors.New("audit event buffer full")
)

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int // Size of the event buffer channel
	WorkerCount  int // Number of concurrent workers
	WriteTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// AuditService writes audit entries from a bounded buffer with a fixed pool
// of workers.
type AuditService struct {
	repo         repositories.AuditRepository
	logger       *zap.Logger
	events       chan *models.AuditLog
	workerCount  int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	mu           sync.Mutex
	started      bool
	dropped      int
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditService{
		repo:         repo,
		logger:       logger,
		events:       make(chan *models.AuditLog, config.BufferSize),
		workerCount:  config.WorkerCount,
		writeTimeout: config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", cap(s.events)))

	return nil
}

// Stop stops accepting events and waits up to timeout for the buffer to
// drain. Stopping a stopped service is a no-op.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pending := len(s.events)
	close(s.events)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an entry without blocking. A full buffer drops the entry.
func (s *AuditService) LogEvent(log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.events <- log:
		return nil
	default:
		s.dropped++
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(log.Action)),
			zap.String("username", log.Username))
		return ErrBufferFull
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	for log := range s.events {
		if err := s.write(log); err != nil {
			s.logger.Error("failed to write audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(log.Action)),
				zap.String("username", log.Username))
		}
	}
}

func (s *AuditService) write(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.repo.Insert(ctx, log)
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int
	Started       bool
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    cap(s.events),
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started,
	}
}

// LogRepository writes audit entries to the structured log. It is used when
// no database is configured.
type LogRepository struct {
	logger *zap.Logger
}

var _ repositories.AuditRepository = (*LogRepository)(nil)

// NewLogRepository creates a LogRepository
func NewLogRepository(logger *zap.Logger) *LogRepository {
	return &LogRepository{logger: logger.With(zap.String("component", "audit"))}
}

// Insert logs the entry at info level
func (r *LogRepository) Insert(_ context.Context, log *models.AuditLog) error {
	fields := []zap.Field{
		zap.String("audit_id", log.ID.String()),
		zap.String("action", string(log.Action)),
		zap.String("username", log.Username),
		zap.String("request_id", log.RequestID),
		zap.String("ip_address", log.IPAddress),
		zap.Int("status", log.StatusCode),
		zap.Int("latency_ms", log.LatencyMs),
		zap.Time("timestamp", log.Timestamp),
	}
	if len(log.Details) > 0 {
		fields = append(fields, zap.ByteString("details", log.Details))
	}
	r.logger.Info("audit event", fields...)
	return nil
}
