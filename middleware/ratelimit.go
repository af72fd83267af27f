package middleware

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/utils"
)

// RateLimiter decides whether a caller identified by key may proceed.
type RateLimiter interface {
	Allow(key string) (allowed bool, retryAfter time.Duration)
}

// RateLimit throttles requests per authenticated user, falling back to the
// client address. It must run after RequireAuth to see the user.
func RateLimit(limiter RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				logger.Warn("rate limit exceeded",
					zap.String("key", key),
					zap.Duration("retry_after", retryAfter),
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
				)
				_ = utils.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return "user:" + user.Username
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
