package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/ratelimit"
)

// RateLimiter charges subject for an upload of size bytes. A negative size
// means the length is unknown.
type RateLimiter interface {
	Charge(ctx context.Context, subject string, size int64) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := ratelimit.ClientSubject(r, s.rateLimitSubjectHeader) + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.Charge(r.Context(), subject, r.ContentLength)
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-RateLimit-Cost", strconv.FormatInt(decision.Cost, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, domain.Failure(domain.MessageRateLimited))
	})
}

func shouldRateLimit(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/transform"
}
