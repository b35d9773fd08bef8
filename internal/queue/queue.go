package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/weatherwise/telemetry/internal/events"
)

var (
	// ErrQueueFull is returned when a batch would push depth past the cap.
	ErrQueueFull = errors.New("queue: queue is full")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("queue: backing store unavailable")
)

// enqueueScript performs size-check-plus-push as one server-side operation.
// A read-then-write (LLEN then RPUSH) would let K concurrent writers exceed
// the cap by up to K; the script makes the whole batch fit or fail.
//
// KEYS[1] = queue key
// ARGV[1] = max queue size
// ARGV[2..] = serialized events
// Returns the new depth, or -1 when the batch does not fit.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local n = #ARGV - 1
if redis.call('LLEN', KEYS[1]) + n > max then
  return -1
end
for i = 2, #ARGV do
  redis.call('RPUSH', KEYS[1], ARGV[i])
end
return redis.call('LLEN', KEYS[1])
`)

// Queue is a bounded FIFO of serialized events backed by a Redis list.
// Durability is delegated to the backing store, so the queue survives
// API restarts. Depth never exceeds maxSize, even under concurrent
// enqueuers.
type Queue struct {
	rdb     *redis.Client
	key     string
	maxSize int64
	logger  *slog.Logger
}

func New(rdb *redis.Client, key string, maxSize int64, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		rdb:     rdb,
		key:     key,
		maxSize: maxSize,
		logger:  logger,
	}
}

// EnqueueMany appends a batch to the tail of the queue. The whole batch
// either fits or the call fails with ErrQueueFull and the queue is
// unchanged. Store errors map to ErrUnavailable.
func (q *Queue) EnqueueMany(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(batch)+1)
	args = append(args, q.maxSize)
	for i := range batch {
		data, err := json.Marshal(&batch[i])
		if err != nil {
			return fmt.Errorf("queue: marshal event: %w", err)
		}
		args = append(args, string(data))
	}

	depth, err := enqueueScript.Run(ctx, q.rdb, []string{q.key}, args...).Int64()
	if err != nil {
		q.logger.Error("Queue enqueue failed", "error", err, "batch_size", len(batch))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if depth < 0 {
		q.logger.Warn("Queue full, batch rejected",
			"batch_size", len(batch),
			"max_size", q.maxSize,
		)
		return ErrQueueFull
	}

	q.logger.Debug("Batch enqueued",
		"batch_size", len(batch),
		"depth", depth,
	)
	return nil
}

// DequeueBatch removes and returns up to n events from the head of the
// queue, in FIFO order. An empty queue returns an empty slice, not an
// error. Entries that fail to decode are dropped with a log line so one
// corrupt entry cannot wedge the queue.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]events.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := q.rdb.LPopCount(ctx, q.key, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	batch := make([]events.Event, 0, len(raw))
	for _, entry := range raw {
		var event events.Event
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			q.logger.Error("Dropping undecodable queue entry", "error", err)
			continue
		}
		batch = append(batch, event)
	}
	return batch, nil
}

// Depth returns the current number of queued events.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return depth, nil
}

// Clear removes all queued events. Test-only.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
