package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64, now func() time.Time) (*RedisTokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &RedisTokenBucket{Redis: rdb, Prefix: "rl", Capacity: capacity, RefillRate: refill, Now: now}, mr
}

func TestTokenBucketAllow(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	bucket, _ := newBucket(t, 2, 1, func() time.Time { return current })
	ctx := context.Background()

	ok, remaining, err := bucket.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, _, err = bucket.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, remaining, err = bucket.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _, err = bucket.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok, "buckets are per key")

	current = current.Add(1500 * time.Millisecond)
	ok, _, err = bucket.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok, "refilled after waiting")
}

func TestTokenBucketDisabled(t *testing.T) {
	var bucket RedisTokenBucket
	ok, _, err := bucket.Allow(context.Background(), "anyone")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	bucket, mr := newBucket(t, 1, 0.01, func() time.Time { return current })

	h := RateLimit(bucket, func(r *http.Request) string { return r.Header.Get("X-User") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)
	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("alice").Code)
	limited := call("alice")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), `"rate_limited"`)

	assert.Equal(t, http.StatusNoContent, call("").Code, "unkeyed requests pass")

	mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, call("bob").Code)
}
