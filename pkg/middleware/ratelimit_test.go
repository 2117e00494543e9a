package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SylTi/saascore/pkg/rbac"
)

func newRateLimiter(t *testing.T, config *RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, config, "test"), mr
}

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	rl, _ := newRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "user:42")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := rl.Allow(ctx, "user:42")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl, mr := newRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "user:42")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _ = rl.Allow(ctx, "user:42")
	assert.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, err = rl.Allow(ctx, "user:42")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl, _ := newRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	allowed, _ := rl.Allow(ctx, "user:1")
	assert.True(t, allowed)
	allowed, _ = rl.Allow(ctx, "user:2")
	assert.True(t, allowed)
}

func TestRateLimiterFailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := newRateLimiter(t, RedemptionRateLimitConfig())
	mr.Close()

	allowed, err := rl.Allow(context.Background(), "user:42")
	assert.True(t, allowed)
	assert.Error(t, err)
}

func TestRateLimiterReset(t *testing.T) {
	rl, _ := newRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	_, _ = rl.Allow(ctx, "user:42")
	allowed, _ := rl.Allow(ctx, "user:42")
	assert.False(t, allowed)

	require.NoError(t, rl.Reset(ctx, "user:42"))
	allowed, _ = rl.Allow(ctx, "user:42")
	assert.True(t, allowed)
}

func TestPerUserMiddleware(t *testing.T) {
	rl, _ := newRateLimiter(t, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := rl.PerUser(okHandler())

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tenants/7/coupons/redeem", nil)
		req = req.WithContext(WithAuth(req.Context(), &AuthContext{UserID: 42, TenantID: 7, Role: rbac.RoleAdmin}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestPerUserMiddlewareRequiresAuth(t *testing.T) {
	rl, _ := newRateLimiter(t, nil)

	rec := httptest.NewRecorder()
	rl.PerUser(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedemptionRateLimitDefaults(t *testing.T) {
	config := RedemptionRateLimitConfig()
	assert.Equal(t, 10, config.RequestsPerWindow)
	assert.Equal(t, time.Minute, config.WindowDuration)
}
