package store

import (
	"context"
	"fmt"
)

// Schema DDL for the telemetry store. Retention windows (raw events 90d,
// daily 730d, hourly 30d, error summaries 90d) are enforced by the
// operator's partitioning jobs, not by these statements.
const (
	schemaRawEvents = `
		CREATE TABLE IF NOT EXISTS raw_events (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			version TEXT NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp_hour TIMESTAMPTZ NOT NULL,
			analytics_level TEXT NOT NULL,
			response_time_ms INTEGER,
			service TEXT,
			cache_hit BOOLEAN,
			retry_count INTEGER,
			country TEXT,
			error_type TEXT,
			parameters JSONB,
			session_id TEXT,
			sequence_number BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`

	schemaRawEventsHourIndex = `
		CREATE INDEX IF NOT EXISTS idx_raw_events_timestamp_hour
			ON raw_events (timestamp_hour)
	`

	schemaRawEventsToolHourIndex = `
		CREATE INDEX IF NOT EXISTS idx_raw_events_tool_hour
			ON raw_events (tool, timestamp_hour)
	`

	schemaDailyAggregates = `
		CREATE TABLE IF NOT EXISTS daily_aggregates (
			date DATE NOT NULL,
			tool TEXT NOT NULL,
			version TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			total_calls BIGINT NOT NULL DEFAULT 0,
			success_calls BIGINT NOT NULL DEFAULT 0,
			error_calls BIGINT NOT NULL DEFAULT 0,
			avg_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			response_time_count BIGINT NOT NULL DEFAULT 0,
			-- NULL until a response time is observed for the key
			p50_response_time_ms DOUBLE PRECISION,
			p95_response_time_ms DOUBLE PRECISION,
			p99_response_time_ms DOUBLE PRECISION,
			min_response_time_ms DOUBLE PRECISION,
			max_response_time_ms DOUBLE PRECISION,
			cache_hit_count BIGINT NOT NULL DEFAULT 0,
			cache_miss_count BIGINT NOT NULL DEFAULT 0,
			cache_hit_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			noaa_calls BIGINT NOT NULL DEFAULT 0,
			openmeteo_calls BIGINT NOT NULL DEFAULT 0,
			total_retries BIGINT NOT NULL DEFAULT 0,
			avg_retry_count DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (date, tool, version, country)
		)
	`

	schemaHourlyAggregates = `
		CREATE TABLE IF NOT EXISTS hourly_aggregates (
			hour TIMESTAMPTZ NOT NULL,
			tool TEXT NOT NULL,
			version TEXT NOT NULL,
			total_calls BIGINT NOT NULL DEFAULT 0,
			success_calls BIGINT NOT NULL DEFAULT 0,
			error_calls BIGINT NOT NULL DEFAULT 0,
			avg_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			response_time_count BIGINT NOT NULL DEFAULT 0,
			p95_response_time_ms DOUBLE PRECISION,
			cache_hit_count BIGINT NOT NULL DEFAULT 0,
			cache_miss_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (hour, tool, version)
		)
	`

	schemaErrorSummaries = `
		CREATE TABLE IF NOT EXISTS error_summaries (
			hour TIMESTAMPTZ NOT NULL,
			tool TEXT NOT NULL,
			error_type TEXT NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			affected_versions TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (hour, tool, error_type)
		)
	`
)

// AllSchemas returns every DDL statement in creation order.
func AllSchemas() []string {
	return []string{
		schemaRawEvents,
		schemaRawEventsHourIndex,
		schemaRawEventsToolHourIndex,
		schemaDailyAggregates,
		schemaHourlyAggregates,
		schemaErrorSummaries,
	}
}

// EnsureSchema creates any missing tables and indexes. Statements are
// idempotent, so running it on every startup is safe.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, stmt := range AllSchemas() {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema setup failed: %w", err)
		}
	}
	return nil
}
