package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{PerMinute: 10, Burst: 10})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Allow(ctx, "client-a")
		assert.True(t, d.Allowed, "request %d should pass", i+1)
		assert.False(t, d.Banned)
	}
}

func TestLimiter_BurstCapDenies(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{PerMinute: 100, Burst: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "client-a").Allowed)
	}

	d := l.Allow(ctx, "client-a")
	assert.False(t, d.Allowed)
	assert.False(t, d.Banned)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestLimiter_RapidRequestsAllCounted(t *testing.T) {
	// Requests arriving on the same clock tick must each occupy a window
	// entry. A timestamp-only ZSET member would collapse them into one
	// and undercount.
	l, mr := newTestLimiter(t, &Config{PerMinute: 100, Burst: 100})
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		require.True(t, l.Allow(ctx, "client-a").Allowed)
	}

	members, err := mr.ZMembers("ratelimit:window:client-a")
	require.NoError(t, err)
	assert.Len(t, members, n)
}

func TestLimiter_MinuteCapDenies(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{PerMinute: 4, Burst: 100})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.True(t, l.Allow(ctx, "client-a").Allowed)
	}

	d := l.Allow(ctx, "client-a")
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
	assert.LessOrEqual(t, d.RetryAfter, 60)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{PerMinute: 2, Burst: 100})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a").Allowed)
	require.True(t, l.Allow(ctx, "client-a").Allowed)
	require.False(t, l.Allow(ctx, "client-a").Allowed)

	assert.True(t, l.Allow(ctx, "client-b").Allowed)
}

func TestLimiter_ThreeStrikesBan(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{
		PerMinute:    1,
		Burst:        100,
		BanThreshold: 3,
		BanDuration:  10 * time.Minute,
	})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a").Allowed)

	// Two violations: denied but not yet banned
	for i := 0; i < 2; i++ {
		d := l.Allow(ctx, "client-a")
		require.False(t, d.Allowed)
		require.False(t, d.Banned, "violation %d must not ban yet", i+1)
	}

	// Third strike triggers the ban
	d := l.Allow(ctx, "client-a")
	assert.False(t, d.Allowed)
	assert.True(t, d.Banned)
	assert.Equal(t, 600, d.RetryAfter)

	// Subsequent requests stay banned
	d = l.Allow(ctx, "client-a")
	assert.True(t, d.Banned)
}

func TestLimiter_BanExpires(t *testing.T) {
	l, mr := newTestLimiter(t, &Config{
		PerMinute:    1,
		Burst:        100,
		BanThreshold: 1,
		BanDuration:  time.Minute,
	})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a").Allowed)
	require.True(t, l.Allow(ctx, "client-a").Banned)

	mr.FastForward(2 * time.Minute)

	d := l.Allow(ctx, "client-a")
	assert.True(t, d.Allowed, "expired ban must not persist")
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{PerMinute: 1, Burst: 100, BanThreshold: 1})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a").Allowed)
	require.True(t, l.Allow(ctx, "client-a").Banned)

	require.NoError(t, l.Reset(ctx, "client-a"))

	assert.True(t, l.Allow(ctx, "client-a").Allowed)
}

func TestLimiter_FailsOpenOnBackendError(t *testing.T) {
	l, mr := newTestLimiter(t, &Config{PerMinute: 1, Burst: 1})
	mr.Close()

	d := l.Allow(context.Background(), "client-a")
	assert.True(t, d.Allowed, "backend outage must not reject clients")
}
