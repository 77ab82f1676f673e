package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/database"
	"github.com/hy2panel/subpanel-backend/pkg/clientip"
)

const (
	// RateLimitWindow is the sliding window for counting requests.
	RateLimitWindow = 60 * time.Second
	// RateLimitMaxRequests is the maximum requests per IP per window.
	RateLimitMaxRequests = 30
	// RateLimitKeyPrefix is the Redis key prefix for per-IP counters.
	RateLimitKeyPrefix = "sub_ratelimit:"
)

// RateLimitMiddleware throttles subscription fetches and login attempts per
// client IP using Redis counters. If Redis is unreachable the request is
// allowed through (fail open): a cache outage must not take down the
// subscription endpoint.
func RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipAddress := clientip.FromRequest(r)
		ctx := r.Context()
		key := RateLimitKeyPrefix + ipAddress

		count, err := database.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			database.RedisClient.Expire(ctx, key, RateLimitWindow)
		}

		if count > RateLimitMaxRequests {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(RateLimitWindow.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"success":false,"message":"Too many requests. Please try again later.","retry_after":%d}`, int(RateLimitWindow.Seconds()))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(RateLimitMaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(RateLimitMaxRequests)-count, 10))
		next.ServeHTTP(w, r)
	})
}
