// Package ratelimit throttles queries per user with in-memory token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused bucket is kept before cleanup.
const DefaultIdleTTL = 10 * time.Minute

// Config sizes the per-key buckets.
type Config struct {
	RequestsPerMinute int
	Burst             int
	IdleTTL           time.Duration
}

// RateLimitResult is the outcome of a limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitService keeps one token bucket per key, usually a username.
type RateLimitService struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
	now     func() time.Time
	logger  *zap.Logger
}

// NewRateLimitService creates a service, or returns nil when
// cfg.RequestsPerMinute is zero.
func NewRateLimitService(cfg Config, logger *zap.Logger) *RateLimitService {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitService{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		logger:  logger,
	}
}

// CheckLimit takes one token from key's bucket. A denied request consumes
// nothing and reports how long to wait.
func (s *RateLimitService) CheckLimit(key string) RateLimitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return RateLimitResult{Allowed: false}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateLimitResult{Allowed: false, RetryAfter: delay}
	}
	return RateLimitResult{Allowed: true}
}

// Allow reports whether key may proceed and, if not, when to retry.
func (s *RateLimitService) Allow(key string) (bool, time.Duration) {
	res := s.CheckLimit(key)
	return res.Allowed, res.RetryAfter
}

// CleanupIdle drops buckets unused for longer than the idle TTL.
func (s *RateLimitService) CleanupIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker runs CleanupIdle every interval until ctx is done.
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupIdle(); n > 0 {
				s.logger.Debug("dropped idle rate limit buckets", zap.Int("buckets", n))
			}
		case <-ctx.Done():
			s.logger.Debug("stopping rate limit cleanup worker")
			return
		}
	}
}
