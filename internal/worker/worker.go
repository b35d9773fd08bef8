package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/monitoring"
	"github.com/weatherwise/telemetry/internal/utils"
)

// BatchQueue is the durable buffer the worker drains.
type BatchQueue interface {
	DequeueBatch(ctx context.Context, n int) ([]events.Event, error)
	EnqueueMany(ctx context.Context, batch []events.Event) error
	Depth(ctx context.Context) (int64, error)
}

// RawSink persists validated events.
type RawSink interface {
	InsertBatch(ctx context.Context, evts []events.Event) error
}

// Aggregator folds a batch into the rollup tables.
type Aggregator interface {
	Apply(ctx context.Context, evts []events.Event) error
}

// Config holds worker settings.
type Config struct {
	BatchSize    int           // events per drain (default: 100)
	PollInterval time.Duration // idle wait between drains (default: 1s)
	Logger       *slog.Logger
	Metrics      *monitoring.Metrics
}

// ApplyDefaults applies default values to zero fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// deadLetterBatch is a batch that failed to persist after all retries.
type deadLetterBatch struct {
	batch     []events.Event
	failedAt  time.Time
	lastError error
	attempts  int
}

const (
	dlqMaxSize          = 10
	dlqRecoveryInterval = 5 * time.Minute
)

// Worker drains the queue in batches and commits each batch: raw insert
// first, then the aggregate rollups. A raw-insert failure abandons the
// batch into the in-memory dead letter queue after retries; an aggregate
// failure only logs, because rollups can be rebuilt from raw rows.
type Worker struct {
	queue      BatchQueue
	raw        RawSink
	aggregator Aggregator
	config     *Config
	logger     *slog.Logger

	// Lifecycle
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool

	// Counters
	processed    uint64 // Events fully committed
	batchesOK    uint64 // Batches fully committed
	abandoned    uint64 // Events lost after retries and DLQ overflow
	aggFailures  uint64 // Aggregate-path failures (raw rows kept)
	dlqCount     uint64 // Batches sent to DLQ
	dlqRecovered uint64 // Batches recovered from DLQ
	dlqOverflow  uint64 // Batches dropped because DLQ was full

	// Dead Letter Queue (in-memory circular buffer)
	dlqMu             sync.Mutex
	dlq               []*deadLetterBatch
	dlqRecoveryTicker *time.Ticker
	lastDLQRecovery   time.Time

	// Raw insert retry schedule; shortened in tests
	retryBackoffs []time.Duration
}

// Stats is a point-in-time snapshot of the worker counters.
type Stats struct {
	Processed    uint64    `json:"processed"`
	BatchesOK    uint64    `json:"batches_ok"`
	Abandoned    uint64    `json:"abandoned"`
	AggFailures  uint64    `json:"agg_failures"`
	DLQSize      int       `json:"dlq_size"`
	DLQCount     uint64    `json:"dlq_count"`
	DLQRecovered uint64    `json:"dlq_recovered"`
	DLQOverflow  uint64    `json:"dlq_overflow"`
	LastRecovery time.Time `json:"last_dlq_recovery"`
}

// New creates a worker. Start must be called to begin draining.
func New(queue BatchQueue, raw RawSink, aggregator Aggregator, cfg *Config) *Worker {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	return &Worker{
		queue:         queue,
		raw:           raw,
		aggregator:    aggregator,
		config:        cfg,
		logger:        cfg.Logger,
		stopChan:      make(chan struct{}),
		retryBackoffs: []time.Duration{0, time.Second, 5 * time.Second},
	}
}

// Start launches the drain loop and the DLQ recovery worker.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}

	w.dlqRecoveryTicker = time.NewTicker(dlqRecoveryInterval)

	w.wg.Add(2)
	go w.run()
	go w.dlqRecoveryWorker()

	w.logger.Info("Ingestion worker started",
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"dlq_max_size", dlqMaxSize,
		"dlq_recovery_interval", dlqRecoveryInterval.String(),
	)
}

// Shutdown stops the worker and waits for the in-flight batch. A batch
// that was dequeued but not yet committed is pushed back onto the queue
// so a restart picks it up.
func (w *Worker) Shutdown(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}

	w.logger.Info("Ingestion worker shutting down...")

	if w.dlqRecoveryTicker != nil {
		w.dlqRecoveryTicker.Stop()
	}
	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Ingestion worker shutdown complete",
			"processed", atomic.LoadUint64(&w.processed),
			"abandoned", atomic.LoadUint64(&w.abandoned),
			"dlq_size", w.dlqSize(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Ingestion worker shutdown timeout")
		return ctx.Err()
	}
}

// Stats returns worker statistics.
func (w *Worker) Stats() Stats {
	w.dlqMu.Lock()
	dlqSize := len(w.dlq)
	lastRecovery := w.lastDLQRecovery
	w.dlqMu.Unlock()

	return Stats{
		Processed:    atomic.LoadUint64(&w.processed),
		BatchesOK:    atomic.LoadUint64(&w.batchesOK),
		Abandoned:    atomic.LoadUint64(&w.abandoned),
		AggFailures:  atomic.LoadUint64(&w.aggFailures),
		DLQSize:      dlqSize,
		DLQCount:     atomic.LoadUint64(&w.dlqCount),
		DLQRecovered: atomic.LoadUint64(&w.dlqRecovered),
		DLQOverflow:  atomic.LoadUint64(&w.dlqOverflow),
		LastRecovery: lastRecovery,
	}
}

// run is the drain loop. A full batch triggers an immediate next drain;
// an empty one waits out the poll interval.
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		batch, err := w.dequeue()
		if err != nil {
			w.logger.Warn("Queue drain failed",
				"error", err,
			)
			w.sleep(w.config.PollInterval)
			continue
		}

		if len(batch) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		// Re-enqueue instead of processing when shutdown raced the
		// dequeue, so the batch survives the restart.
		select {
		case <-w.stopChan:
			w.requeue(batch)
			return
		default:
		}

		w.processBatch(batch)

		if len(batch) < w.config.BatchSize {
			w.sleep(w.config.PollInterval)
		}
	}
}

func (w *Worker) dequeue() ([]events.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.queue.DequeueBatch(ctx, w.config.BatchSize)
}

func (w *Worker) requeue(batch []events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.queue.EnqueueMany(ctx, batch); err != nil {
		w.logger.Error("Failed to re-enqueue in-flight batch on shutdown",
			"batch_size", len(batch),
			"error", err,
		)
		return
	}
	w.logger.Info("In-flight batch re-enqueued on shutdown",
		"batch_size", len(batch),
	)
}

// processBatch commits one batch. Retry strategy for the raw insert:
// immediate, then 1s, then 5s backoff; exhausted batches go to the DLQ.
func (w *Worker) processBatch(batch []events.Event) {
	backoffs := w.retryBackoffs

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < len(backoffs); attempt++ {
		if attempt > 0 {
			w.sleep(backoffs[attempt])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.raw.InsertBatch(ctx, batch)
		cancel()

		if err == nil {
			w.applyAggregates(batch)
			atomic.AddUint64(&w.processed, uint64(len(batch)))
			atomic.AddUint64(&w.batchesOK, 1)
			if w.config.Metrics != nil {
				w.config.Metrics.RecordBatchFlush(len(batch), time.Since(start))
			}
			return
		}

		lastErr = err
		w.logger.Warn("Raw event batch insert failed",
			"attempt", attempt+1,
			"max_attempts", len(backoffs),
			"batch_size", len(batch),
			"error", err,
		)
	}

	w.addToDLQ(batch, lastErr, len(backoffs))
}

// applyAggregates runs the rollup paths. Failures are logged and
// counted but never undo the raw insert.
func (w *Worker) applyAggregates(batch []events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.aggregator.Apply(ctx, batch); err != nil {
		atomic.AddUint64(&w.aggFailures, 1)
		if w.config.Metrics != nil {
			w.config.Metrics.RecordAggregationError()
		}
		w.logger.Error("Aggregate rollup failed, raw rows kept",
			"batch_size", len(batch),
			"error", err,
		)
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopChan:
	case <-time.After(d):
	}
}

// addToDLQ parks a failed batch in the circular dead letter buffer.
// On overflow the oldest batch is dropped and its events counted lost.
func (w *Worker) addToDLQ(batch []events.Event, lastErr error, attempts int) {
	w.dlqMu.Lock()
	defer w.dlqMu.Unlock()

	if len(w.dlq) >= dlqMaxSize {
		dropped := w.dlq[0]
		w.dlq = w.dlq[1:]
		atomic.AddUint64(&w.dlqOverflow, 1)
		atomic.AddUint64(&w.abandoned, uint64(len(dropped.batch)))

		w.logger.Error("Worker DLQ overflow, oldest batch dropped",
			"dropped_batch_size", len(dropped.batch),
			"dropped_at", dropped.failedAt,
		)
	}

	w.dlq = append(w.dlq, &deadLetterBatch{
		batch:     batch,
		failedAt:  utils.NowUTC(),
		lastError: lastErr,
		attempts:  attempts,
	})
	atomic.AddUint64(&w.dlqCount, 1)

	w.logger.Error("Event batch sent to dead letter queue",
		"batch_size", len(batch),
		"dlq_size", len(w.dlq),
		"last_error", lastErr,
	)
}

func (w *Worker) dlqSize() int {
	w.dlqMu.Lock()
	defer w.dlqMu.Unlock()
	return len(w.dlq)
}

// dlqRecoveryWorker periodically retries parked batches.
func (w *Worker) dlqRecoveryWorker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			// Final recovery attempt before exit
			w.flushDLQ()
			return
		case <-w.dlqRecoveryTicker.C:
			w.flushDLQ()
		}
	}
}

// flushDLQ retries each parked batch once, removing the ones that land.
func (w *Worker) flushDLQ() {
	w.dlqMu.Lock()
	if len(w.dlq) == 0 {
		w.dlqMu.Unlock()
		return
	}
	dlqCopy := make([]*deadLetterBatch, len(w.dlq))
	copy(dlqCopy, w.dlq)
	w.dlqMu.Unlock()

	recovered := 0
	for _, dlb := range dlqCopy {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.raw.InsertBatch(ctx, dlb.batch)
		cancel()

		if err != nil {
			continue
		}

		w.applyAggregates(dlb.batch)
		atomic.AddUint64(&w.processed, uint64(len(dlb.batch)))
		atomic.AddUint64(&w.dlqRecovered, 1)
		recovered++

		w.logger.Warn("Batch recovered from dead letter queue",
			"batch_size", len(dlb.batch),
			"time_in_dlq", time.Since(dlb.failedAt).String(),
		)

		w.dlqMu.Lock()
		w.dlq = removeFromDLQ(w.dlq, dlb)
		w.dlqMu.Unlock()
	}

	w.dlqMu.Lock()
	w.lastDLQRecovery = utils.NowUTC()
	w.dlqMu.Unlock()

	if recovered > 0 {
		w.logger.Info("DLQ recovery completed",
			"recovered", recovered,
			"dlq_size", w.dlqSize(),
		)
	}
}

func removeFromDLQ(dlq []*deadLetterBatch, target *deadLetterBatch) []*deadLetterBatch {
	out := dlq[:0]
	for _, dlb := range dlq {
		if dlb != target {
			out = append(out, dlb)
		}
	}
	return out
}
