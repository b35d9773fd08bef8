package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/store"
	"github.com/weatherwise/telemetry/internal/store/queries"
)

// Aggregator folds event batches into the rollup tables. It holds no
// state between batches: every Apply call groups locally and merges via
// idempotent upserts, so two workers applying disjoint batches never
// conflict beyond row-level locking.
type Aggregator struct {
	pool   *store.Pool
	logger *slog.Logger
}

// New creates an aggregator over an existing pool.
func New(pool *store.Pool, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{pool: pool, logger: logger}
}

// Apply merges one batch into the daily, hourly and error-summary
// rollups. The three paths run in parallel; the first failure cancels
// the rest and is returned.
func (a *Aggregator) Apply(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	if !a.pool.IsHealthy() {
		return store.ErrConnectionFailed
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.applyDaily(gctx, evts) })
	g.Go(func() error { return a.applyHourly(gctx, evts) })
	g.Go(func() error { return a.applyErrors(gctx, evts) })

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Debug("Batch aggregated",
		"events", len(evts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (a *Aggregator) applyDaily(ctx context.Context, evts []events.Event) error {
	for key, group := range BuildDailyGroups(evts) {
		minRT, maxRT := MinMaxOrNil(group.ResponseTimes)

		_, err := a.pool.Pool().Exec(ctx, queries.QueryUpsertDailyAggregate,
			key.Date,
			key.Tool,
			key.Version,
			key.Country,
			group.TotalCalls,
			group.SuccessCalls,
			group.ErrorCalls,
			group.AvgResponseTime(),
			group.ResponseTimeCount(),
			PercentileOrNil(group.ResponseTimes, 0.50),
			PercentileOrNil(group.ResponseTimes, 0.95),
			PercentileOrNil(group.ResponseTimes, 0.99),
			minRT,
			maxRT,
			group.CacheHits,
			group.CacheMisses,
			group.CacheHitRate(),
			group.NOAACalls,
			group.OpenMeteoCalls,
			group.TotalRetries,
			group.AvgRetryCount(),
		)
		if err != nil {
			return fmt.Errorf("aggregate: daily upsert failed for %s/%s: %w", key.Date, key.Tool, err)
		}
	}
	return nil
}

func (a *Aggregator) applyHourly(ctx context.Context, evts []events.Event) error {
	for key, group := range BuildHourlyGroups(evts) {
		_, err := a.pool.Pool().Exec(ctx, queries.QueryUpsertHourlyAggregate,
			key.Hour,
			key.Tool,
			key.Version,
			group.TotalCalls,
			group.SuccessCalls,
			group.ErrorCalls,
			group.AvgResponseTime(),
			group.ResponseTimeCount(),
			PercentileOrNil(group.ResponseTimes, 0.95),
			group.CacheHits,
			group.CacheMisses,
		)
		if err != nil {
			return fmt.Errorf("aggregate: hourly upsert failed for %s/%s: %w",
				key.Hour.Format(time.RFC3339), key.Tool, err)
		}
	}
	return nil
}

func (a *Aggregator) applyErrors(ctx context.Context, evts []events.Event) error {
	for key, group := range BuildErrorGroups(evts) {
		_, err := a.pool.Pool().Exec(ctx, queries.QueryUpsertErrorSummary,
			key.Hour,
			key.Tool,
			key.ErrorType,
			group.Count,
			group.FirstSeen,
			group.LastSeen,
			group.Versions(),
		)
		if err != nil {
			return fmt.Errorf("aggregate: error summary upsert failed for %s/%s: %w",
				key.Tool, key.ErrorType, err)
		}
	}
	return nil
}
