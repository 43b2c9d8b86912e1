package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/cache"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/store"
)

const (
	defaultRequestsPerMinute = 20
	window                   = time.Minute
)

// RateLimit is a fixed-window limiter keyed by the caller's token fingerprint.
type RateLimit struct {
	counter        store.Counter
	requestsPerMin int
}

func NewRateLimit(c store.Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin}
}

// Limit must run after Session.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := session.TokenFromContext(r.Context())
		if !ok || rl.counter == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.RateLimitKey(session.Fingerprint(token))
		count, err := rl.counter.IncrWithExpiry(r.Context(), key, window)
		if err != nil {
			// Fail open.
			slog.WarnContext(r.Context(), "rate limit counter failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many uploads, try again later", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
