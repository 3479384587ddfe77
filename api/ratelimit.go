package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/config"
)

// IssueRateLimiter caps how many issues a single user may create inside a
// rolling window, backed by a redis counter with a TTL
type IssueRateLimiter struct {
	Redis  *redis.Client
	Limit  int64
	Window time.Duration
	Prefix string
}

// NewIssueRateLimiter returns a limiter with the production defaults of
// 5 issues per hour per user
func NewIssueRateLimiter(rdb *redis.Client) *IssueRateLimiter {
	return &IssueRateLimiter{
		Redis:  rdb,
		Limit:  5,
		Window: time.Hour,
		Prefix: "ratelimit:issue",
	}
}

// Middleware counts the authenticated user's submissions and rejects with
// 429 once the window quota is spent. With no redis configured the
// limiter is a no-op.
func (l *IssueRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, ok := UserFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("%s:%s", l.Prefix, user.ID.Hex())
		count, err := l.Redis.Incr(r.Context(), key).Result()
		if err != nil {
			// redis being down should not take issue creation with it
			zap.S().Errorw("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			l.Redis.Expire(r.Context(), key, l.Window)
		}
		if count > l.Limit {
			ttl, _ := l.Redis.TTL(r.Context(), key).Result()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			config.ErrorStatus("too many issues submitted, try again later", http.StatusTooManyRequests, w,
				fmt.Errorf("user %s exceeded %d submissions per %s", user.ID.Hex(), l.Limit, l.Window))
			return
		}
		next.ServeHTTP(w, r)
	})
}
