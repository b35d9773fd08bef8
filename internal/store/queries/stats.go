package queries

// Read-side statistics queries. Every window is [$1, now] with $1 a
// timestamptz; daily queries compare on the date column, hourly ones on t
// he hour column.
//
// Wherever a response time is reported across groups, it is computed as
// AVG over raw_events rows inside the window rather than averaging the
// per-row avg_response_time_ms of aggregate rows, which would weight
// small groups the same as large ones.
const (
	// QueryOverviewTotals sums the call counters over the window.
	QueryOverviewTotals = `
		SELECT
			COALESCE(SUM(total_calls), 0),
			COALESCE(SUM(success_calls), 0),
			COALESCE(SUM(error_calls), 0),
			COALESCE(SUM(cache_hit_count), 0),
			COALESCE(SUM(cache_miss_count), 0)
		FROM daily_aggregates
		WHERE date >= $1::date
	`

	// QueryOverviewAvgResponseTime reads the true mean over raw events in
	// the window. Returns NULL when no event in the window carried a
	// response time.
	QueryOverviewAvgResponseTime = `
		SELECT AVG(response_time_ms)
		FROM raw_events
		WHERE timestamp_hour >= $1 AND response_time_ms IS NOT NULL
	`

	// QueryTopTools lists the busiest tools in the window, largest first.
	QueryTopTools = `
		SELECT tool, SUM(total_calls) AS calls
		FROM daily_aggregates
		WHERE date >= $1::date
		GROUP BY tool
		ORDER BY calls DESC
		LIMIT $2
	`

	// QueryTopErrors lists the most frequent error types in the window.
	QueryTopErrors = `
		SELECT error_type, SUM(count) AS total
		FROM error_summaries
		WHERE hour >= $1
		GROUP BY error_type
		ORDER BY total DESC
		LIMIT $2
	`

	// QueryToolsStats returns per-tool rollups for the window, sorted by
	// call volume. The response-time column is the weighted mean, folded
	// from the daily rows with their response-time observation counts as
	// weights. total_calls is the wrong weight here: it includes
	// minimal-level calls that carried no response time.
	QueryToolsStats = `
		SELECT
			tool,
			SUM(total_calls),
			SUM(success_calls),
			SUM(error_calls),
			CASE WHEN SUM(response_time_count) > 0 THEN
				SUM(avg_response_time_ms * response_time_count) / SUM(response_time_count)
			ELSE 0 END,
			SUM(cache_hit_count),
			SUM(cache_miss_count)
		FROM daily_aggregates
		WHERE date >= $1::date
		GROUP BY tool
		ORDER BY SUM(total_calls) DESC
	`

	// QueryToolDailySeries returns the per-day series for one tool.
	QueryToolDailySeries = `
		SELECT
			date,
			SUM(total_calls),
			SUM(success_calls),
			SUM(error_calls),
			CASE WHEN SUM(response_time_count) > 0 THEN
				SUM(avg_response_time_ms * response_time_count) / SUM(response_time_count)
			ELSE 0 END
		FROM daily_aggregates
		WHERE date >= $1::date AND tool = $2
		GROUP BY date
		ORDER BY date
	`

	// QueryToolVersionDistribution returns call counts per client version
	// for one tool.
	QueryToolVersionDistribution = `
		SELECT version, SUM(total_calls) AS calls
		FROM daily_aggregates
		WHERE date >= $1::date AND tool = $2
		GROUP BY version
		ORDER BY calls DESC
	`

	// QueryToolCountryDistribution returns call counts per country for one
	// tool. Events without a country aggregate under the empty string and
	// are skipped here.
	QueryToolCountryDistribution = `
		SELECT country, SUM(total_calls) AS calls
		FROM daily_aggregates
		WHERE date >= $1::date AND tool = $2 AND country <> ''
		GROUP BY country
		ORDER BY calls DESC
	`

	// QueryErrorStats returns the error-type distribution with recency and
	// the union of affected versions across the window.
	QueryErrorStats = `
		SELECT
			es.error_type,
			SUM(es.count) AS total,
			MAX(es.last_seen),
			(
				SELECT ARRAY(
					SELECT DISTINCT v
					FROM error_summaries inner_es, unnest(inner_es.affected_versions) AS v
					WHERE inner_es.hour >= $1 AND inner_es.error_type = es.error_type
					ORDER BY v
				)
			)
		FROM error_summaries es
		WHERE es.hour >= $1
		GROUP BY es.error_type
		ORDER BY total DESC
	`

	// QueryPerformancePercentiles computes exact window percentiles from
	// raw events. Returns NULLs on an empty window.
	QueryPerformancePercentiles = `
		SELECT
			AVG(response_time_ms),
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY response_time_ms),
			PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY response_time_ms),
			PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY response_time_ms)
		FROM raw_events
		WHERE timestamp_hour >= $1 AND response_time_ms IS NOT NULL
	`

	// QueryServiceDistribution sums upstream service usage over the window.
	QueryServiceDistribution = `
		SELECT
			COALESCE(SUM(noaa_calls), 0),
			COALESCE(SUM(openmeteo_calls), 0)
		FROM daily_aggregates
		WHERE date >= $1::date
	`

	// QueryHourlyTotals serves the short internal windows (1h..24h) from
	// hourly_aggregates, which daily rows cannot resolve.
	QueryHourlyTotals = `
		SELECT
			COALESCE(SUM(total_calls), 0),
			COALESCE(SUM(success_calls), 0),
			COALESCE(SUM(error_calls), 0),
			COALESCE(SUM(cache_hit_count), 0),
			COALESCE(SUM(cache_miss_count), 0)
		FROM hourly_aggregates
		WHERE hour >= $1
	`

	// QueryTopToolsHourly is the hourly-window variant of QueryTopTools.
	QueryTopToolsHourly = `
		SELECT tool, SUM(total_calls) AS calls
		FROM hourly_aggregates
		WHERE hour >= $1
		GROUP BY tool
		ORDER BY calls DESC
		LIMIT $2
	`
)
