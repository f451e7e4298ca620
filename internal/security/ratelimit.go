package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenBucket is a token bucket per key, kept in Redis so every API
// replica draws from the same budget.
type RedisTokenBucket struct {
	Redis      redis.Scripter
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second
	Now        func() time.Time
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
local filled = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if filled >= 1 then
  allowed = 1
  filled = filled - 1
end

redis.call('HSET', key, 'tokens', tostring(filled), 'last', tostring(now))
redis.call('EXPIRE', key, ttl)
return {allowed, math.floor(filled)}
`)

// Allow takes one token for key and reports whether it was available and
// how many whole tokens remain.
func (l *RedisTokenBucket) Allow(ctx context.Context, key string) (bool, int, error) {
	if l.Redis == nil || l.Capacity <= 0 || l.RefillRate <= 0 {
		return true, 0, nil
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if l.Prefix != "" {
		key = l.Prefix + ":" + key
	}

	seconds := float64(now().UnixMicro()) / 1e6
	ttl := int64(float64(l.Capacity)/l.RefillRate) + 1

	vals, err := tokenBucketScript.Run(ctx, l.Redis, []string{key},
		l.Capacity, strconv.FormatFloat(l.RefillRate, 'f', -1, 64), strconv.FormatFloat(seconds, 'f', 6, 64), ttl,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}
	return vals[0] == 1, int(vals[1]), nil
}

// RateLimit draws one token per request from the bucket named by keyFn.
// Requests keyFn cannot name pass through. A Redis failure rejects the
// request with 503.
func RateLimit(l *RedisTokenBucket, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFn != nil {
				key = keyFn(r)
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, err := l.Allow(r.Context(), key)
			if err != nil {
				WriteJSONError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				WriteJSONError(w, r, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
