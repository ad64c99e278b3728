package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowHitScript counts one hit in a window bucket. The first hit sets the bucket's expiry.
var windowHitScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

const (
	defaultRateLimitPrefix = "score:rate_limit"
	minRateLimitWindow     = time.Second
	// bucketGrace keeps a bucket alive a little past its window so clock skew between
	// replicas cannot reopen a closed window.
	bucketGrace = time.Second
)

// RedisRateLimiter throttles subjects with clock-aligned fixed windows kept in Redis. Every
// replica sharing the Redis instance sees the same counters.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter returns a limiter storing its buckets under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Key returns the key prefix shared by every bucket of subject within scope.
func (r *RedisRateLimiter) Key(scope string, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, strings.TrimSpace(scope), strings.TrimSpace(subject))
}

func (r *RedisRateLimiter) bucketKey(scope, subject string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%d", r.Key(scope, subject), windowStart.Unix())
}

// ConsumeRateLimit records one hit for subject and returns the hit count of the current window
// with the seconds left until the window closes. A nil limiter, a blank scope or subject, or a
// non-positive limit disables throttling.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(subject) == "" {
		return 0, 0, nil
	}
	if window < minRateLimitWindow {
		window = minRateLimitWindow
	}

	now := r.now()
	windowStart := now.Truncate(window)
	remaining := windowStart.Add(window).Sub(now)

	hits, err := windowHitScript.Run(ctx, r.client,
		[]string{r.bucketKey(scope, subject, windowStart)},
		(remaining + bucketGrace).Milliseconds(),
	).Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", scope, err)
	}

	return int(hits), retryAfterSeconds(remaining), nil
}

func retryAfterSeconds(remaining time.Duration) int {
	seconds := int((remaining + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
