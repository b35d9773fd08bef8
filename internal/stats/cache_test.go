package stats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb, 300*time.Second, nil, nil), mr
}

func TestCache_ComputeOnMissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return map[string]int{"total": 42}, nil
	}

	body1, err := c.GetOrCompute(ctx, "stats:overview:30d", compute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":42}`, string(body1))
	assert.Equal(t, 1, calls)

	body2, err := c.GetOrCompute(ctx, "stats:overview:30d", compute)
	require.NoError(t, err)
	assert.Equal(t, body1, body2)
	assert.Equal(t, 1, calls, "second read must come from cache")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_KeysAreIndependent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	b1, err := c.GetOrCompute(ctx, "stats:overview:7d", func() (interface{}, error) {
		return "seven", nil
	})
	require.NoError(t, err)

	b2, err := c.GetOrCompute(ctx, "stats:overview:30d", func() (interface{}, error) {
		return "thirty", nil
	})
	require.NoError(t, err)

	assert.NotEqual(t, b1, b2)
}

func TestCache_ComputeErrorNotCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	failing := func() (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("pool timeout")
		}
		return "ok", nil
	}

	_, err := c.GetOrCompute(ctx, "k", failing)
	require.Error(t, err)

	body, err := c.GetOrCompute(ctx, "k", failing)
	require.NoError(t, err)

	var got string
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestCache_RedisDownFallsThroughToCompute(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	body, err := c.GetOrCompute(ctx, "k", func() (interface{}, error) {
		return "direct", nil
	})
	require.NoError(t, err, "cache backend outage must not fail the request")
	assert.JSONEq(t, `"direct"`, string(body))
}

func TestCache_LocalTierServesDuringRedisOutage(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return "v", nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)

	mr.Close()

	_, err = c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "local tier should answer while Redis is down")
}

func TestCache_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewCache(rdb, time.Second, nil, nil)
	ctx := context.Background()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return calls, nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	// The local tier expires on wall clock, not miniredis time; drop it
	// so the Redis expiry is what's exercised.
	c.local.Remove("k")

	body, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.JSONEq(t, "2", string(body))
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return calls, nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)

	c.Invalidate(ctx, "k")

	body, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.JSONEq(t, "2", string(body))
}

func TestCache_NilRedisUsesLocalOnly(t *testing.T) {
	c := NewCache(nil, time.Minute, nil, nil)
	ctx := context.Background()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return "v", nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
