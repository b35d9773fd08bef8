package queries

// Aggregate upsert statements. Each upsert is idempotent at the row level
// under its conflict key, and the read-modify-write for derived values
// happens server-side within the statement so concurrent workers cannot
// interleave a stale read between check and write.
//
// The average merge is the weighted form
//
//	newAvg = (old.avg*old.n + new.avg*new.n) / (old.n + new.n)
//
// weighted by response_time_count, the number of events that actually
// carried a response time. Weighting by total_calls would drag the
// average toward zero whenever minimal-level events (which report no
// response time) share a key with standard-level traffic. Averaging two
// stored averages without their weights drifts as soon as group sizes
// differ, so it never appears anywhere in this package.
const (
	// QueryUpsertDailyAggregate merges one batch-local group into
	// daily_aggregates, keyed by (date, tool, version, country).
	//
	// Percentiles are a per-batch approximation: the local group's values
	// overwrite the stored ones, except that a group with no response
	// time observations passes NULL and COALESCE keeps the prior values.
	// Min/max merge with LEAST/GREATEST, which ignore NULL arguments, so
	// a no-observation group cannot pin the stored minimum to zero.
	// cache_hit_rate is recomputed from the post-merge totals, never
	// averaged across prior rate values.
	QueryUpsertDailyAggregate = `
		INSERT INTO daily_aggregates (
			date, tool, version, country,
			total_calls, success_calls, error_calls,
			avg_response_time_ms, response_time_count,
			p50_response_time_ms, p95_response_time_ms, p99_response_time_ms,
			min_response_time_ms, max_response_time_ms,
			cache_hit_count, cache_miss_count, cache_hit_rate,
			noaa_calls, openmeteo_calls,
			total_retries, avg_retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			now(), now()
		)
		ON CONFLICT (date, tool, version, country)
		DO UPDATE SET
			total_calls = daily_aggregates.total_calls + EXCLUDED.total_calls,
			success_calls = daily_aggregates.success_calls + EXCLUDED.success_calls,
			error_calls = daily_aggregates.error_calls + EXCLUDED.error_calls,
			avg_response_time_ms = CASE
				WHEN daily_aggregates.response_time_count + EXCLUDED.response_time_count > 0 THEN
					(daily_aggregates.avg_response_time_ms * daily_aggregates.response_time_count
						+ EXCLUDED.avg_response_time_ms * EXCLUDED.response_time_count)
					/ (daily_aggregates.response_time_count + EXCLUDED.response_time_count)
				ELSE 0
			END,
			response_time_count = daily_aggregates.response_time_count + EXCLUDED.response_time_count,
			p50_response_time_ms = COALESCE(EXCLUDED.p50_response_time_ms, daily_aggregates.p50_response_time_ms),
			p95_response_time_ms = COALESCE(EXCLUDED.p95_response_time_ms, daily_aggregates.p95_response_time_ms),
			p99_response_time_ms = COALESCE(EXCLUDED.p99_response_time_ms, daily_aggregates.p99_response_time_ms),
			min_response_time_ms = LEAST(daily_aggregates.min_response_time_ms, EXCLUDED.min_response_time_ms),
			max_response_time_ms = GREATEST(daily_aggregates.max_response_time_ms, EXCLUDED.max_response_time_ms),
			cache_hit_count = daily_aggregates.cache_hit_count + EXCLUDED.cache_hit_count,
			cache_miss_count = daily_aggregates.cache_miss_count + EXCLUDED.cache_miss_count,
			cache_hit_rate = CASE
				WHEN daily_aggregates.cache_hit_count + EXCLUDED.cache_hit_count
					+ daily_aggregates.cache_miss_count + EXCLUDED.cache_miss_count > 0 THEN
					(daily_aggregates.cache_hit_count + EXCLUDED.cache_hit_count)::double precision
					/ (daily_aggregates.cache_hit_count + EXCLUDED.cache_hit_count
						+ daily_aggregates.cache_miss_count + EXCLUDED.cache_miss_count)
				ELSE 0
			END,
			noaa_calls = daily_aggregates.noaa_calls + EXCLUDED.noaa_calls,
			openmeteo_calls = daily_aggregates.openmeteo_calls + EXCLUDED.openmeteo_calls,
			total_retries = daily_aggregates.total_retries + EXCLUDED.total_retries,
			avg_retry_count = CASE
				WHEN daily_aggregates.total_calls + EXCLUDED.total_calls > 0 THEN
					(daily_aggregates.avg_retry_count * daily_aggregates.total_calls
						+ EXCLUDED.avg_retry_count * EXCLUDED.total_calls)
					/ (daily_aggregates.total_calls + EXCLUDED.total_calls)
				ELSE 0
			END,
			updated_at = now()
	`

	// QueryUpsertHourlyAggregate merges one batch-local group into
	// hourly_aggregates, keyed by (hour, tool, version).
	QueryUpsertHourlyAggregate = `
		INSERT INTO hourly_aggregates (
			hour, tool, version,
			total_calls, success_calls, error_calls,
			avg_response_time_ms, response_time_count, p95_response_time_ms,
			cache_hit_count, cache_miss_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			now(), now()
		)
		ON CONFLICT (hour, tool, version)
		DO UPDATE SET
			total_calls = hourly_aggregates.total_calls + EXCLUDED.total_calls,
			success_calls = hourly_aggregates.success_calls + EXCLUDED.success_calls,
			error_calls = hourly_aggregates.error_calls + EXCLUDED.error_calls,
			avg_response_time_ms = CASE
				WHEN hourly_aggregates.response_time_count + EXCLUDED.response_time_count > 0 THEN
					(hourly_aggregates.avg_response_time_ms * hourly_aggregates.response_time_count
						+ EXCLUDED.avg_response_time_ms * EXCLUDED.response_time_count)
					/ (hourly_aggregates.response_time_count + EXCLUDED.response_time_count)
				ELSE 0
			END,
			response_time_count = hourly_aggregates.response_time_count + EXCLUDED.response_time_count,
			p95_response_time_ms = COALESCE(EXCLUDED.p95_response_time_ms, hourly_aggregates.p95_response_time_ms),
			cache_hit_count = hourly_aggregates.cache_hit_count + EXCLUDED.cache_hit_count,
			cache_miss_count = hourly_aggregates.cache_miss_count + EXCLUDED.cache_miss_count,
			updated_at = now()
	`

	// QueryUpsertErrorSummary merges one batch-local error group into
	// error_summaries, keyed by (hour, tool, error_type). affected_versions
	// is a set: the union is deduplicated server-side.
	QueryUpsertErrorSummary = `
		INSERT INTO error_summaries (
			hour, tool, error_type,
			count, first_seen, last_seen, affected_versions
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hour, tool, error_type)
		DO UPDATE SET
			count = error_summaries.count + EXCLUDED.count,
			first_seen = LEAST(error_summaries.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(error_summaries.last_seen, EXCLUDED.last_seen),
			affected_versions = ARRAY(
				SELECT DISTINCT v
				FROM unnest(error_summaries.affected_versions || EXCLUDED.affected_versions) AS v
				ORDER BY v
			)
	`
)
