package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/logger"
)

func newTestQueue(t *testing.T, maxSize int64) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "test:events", maxSize, logger.New("error")), mr
}

func testEvent(tool string) events.Event {
	return events.Event{
		Version:        "1.0.0",
		Tool:           tool,
		Status:         events.StatusSuccess,
		TimestampHour:  time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC),
		AnalyticsLevel: events.LevelMinimal,
	}
}

func testBatch(n int) []events.Event {
	batch := make([]events.Event, n)
	for i := range batch {
		batch[i] = testEvent("get_forecast")
	}
	return batch
}

func TestQueue_EnqueueDequeueFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 100)
	ctx := context.Background()

	first := testEvent("get_forecast")
	second := testEvent("get_alerts")
	require.NoError(t, q.EnqueueMany(ctx, []events.Event{first, second}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "get_forecast", batch[0].Tool)
	assert.Equal(t, "get_alerts", batch[1].Tool)
	assert.True(t, first.TimestampHour.Equal(batch[0].TimestampHour))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_DequeueEmptyReturnsNothing(t *testing.T) {
	q, _ := newTestQueue(t, 100)

	batch, err := q.DequeueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestQueue_DequeueRespectsCount(t *testing.T) {
	q, _ := newTestQueue(t, 100)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(10)))

	batch, err := q.DequeueBatch(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), depth)
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(5)))

	err := q.EnqueueMany(ctx, testBatch(1))
	assert.ErrorIs(t, err, ErrQueueFull)
}

// A batch that does not fully fit is rejected outright and the depth is
// unchanged: there is no partial admission.
func TestQueue_WholeBatchOrNothing(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(4)))

	err := q.EnqueueMany(ctx, testBatch(2))
	assert.ErrorIs(t, err, ErrQueueFull)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), depth)
}

// Concurrent enqueuers can never drive depth past the cap: the size check
// and push run as one server-side script.
func TestQueue_ConcurrentEnqueueUnderCap(t *testing.T) {
	const maxSize = 1000
	q, _ := newTestQueue(t, maxSize)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(995)))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = q.EnqueueMany(ctx, testBatch(10))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrQueueFull)
		}
	}
	assert.Equal(t, 0, accepted, "neither batch of 10 fits at depth 995 with cap 1000")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(995), depth)
}

func TestQueue_ConcurrentEnqueueExactlyOneFits(t *testing.T) {
	const maxSize = 1000
	q, _ := newTestQueue(t, maxSize)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(985)))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = q.EnqueueMany(ctx, testBatch(10))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "exactly one batch of 10 fits at depth 985 with cap 1000")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(995), depth)
}

func TestQueue_EnqueueEmptyBatchIsNoop(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, nil))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_UnavailableBackingStore(t *testing.T) {
	q, mr := newTestQueue(t, 100)
	ctx := context.Background()
	mr.Close()

	err := q.EnqueueMany(ctx, testBatch(1))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = q.DequeueBatch(ctx, 10)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = q.Depth(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQueue_SurvivesClientReconnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, "test:events", 100, logger.New("error"))
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(3)))
	require.NoError(t, rdb.Close())

	// A fresh client sees the same queued events: durability belongs to
	// the backing store, not the process.
	rdb2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb2.Close() }()
	q2 := New(rdb2, "test:events", 100, logger.New("error"))

	depth, err := q2.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
}

func TestQueue_Clear(t *testing.T) {
	q, _ := newTestQueue(t, 100)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(5)))
	require.NoError(t, q.Clear(ctx))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_CorruptEntrySkipped(t *testing.T) {
	q, mr := newTestQueue(t, 100)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMany(ctx, testBatch(1)))
	_, err := mr.Push("test:events", "{not valid json")
	require.NoError(t, err)
	require.NoError(t, q.EnqueueMany(ctx, []events.Event{testEvent("get_alerts")}))

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "get_forecast", batch[0].Tool)
	assert.Equal(t, "get_alerts", batch[1].Tool)
}

func BenchmarkQueue_EnqueueMany(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	q := New(rdb, "bench:events", int64(b.N+1)*100, logger.New("error"))
	batch := testBatch(100)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.EnqueueMany(ctx, batch); err != nil {
			b.Fatal(fmt.Sprint(err))
		}
	}
}
