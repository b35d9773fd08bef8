package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"endpoint"},
	)

	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_ingested_total",
			Help: "Total number of events accepted into the queue",
		},
	)

	BatchesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_batches_rejected_total",
			Help: "Total number of rejected ingest batches",
		},
		[]string{"reason"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_queue_depth",
			Help: "Current number of events buffered in the queue",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_processed_total",
			Help: "Total number of events committed to the store",
		},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_batch_flush_duration_seconds",
			Help:    "Time to commit one dequeued batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	AggregationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_aggregation_errors_total",
			Help: "Total number of failed aggregate rollups",
		},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_rate_limit_rejections_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"kind"},
	)

	StatsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_stats_cache_lookups_total",
			Help: "Stats cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m.enabled
}

func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	status := strconv.Itoa(statusCode)
	RequestsTotal.WithLabelValues(endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngest(accepted int) {
	if !m.isEnabled() {
		return
	}
	EventsIngested.Add(float64(accepted))
}

func (m *Metrics) RecordRejection(reason string) {
	if !m.isEnabled() {
		return
	}
	BatchesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) UpdateQueueDepth(depth int64) {
	if !m.isEnabled() {
		return
	}
	QueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordBatchFlush(events int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	EventsProcessed.Add(float64(events))
	BatchFlushDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAggregationError() {
	if !m.isEnabled() {
		return
	}
	AggregationErrors.Inc()
}

func (m *Metrics) RecordRateLimit(banned bool) {
	if !m.isEnabled() {
		return
	}
	kind := "limited"
	if banned {
		kind = "banned"
	}
	RateLimitRejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if !m.isEnabled() {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	StatsCacheLookups.WithLabelValues(outcome).Inc()
}
