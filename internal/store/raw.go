package store

import (
	"context"
	"fmt"

	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/store/queries"
)

// RawStore persists validated events into raw_events.
type RawStore struct {
	pool *Pool
}

// NewRawStore creates a raw event store over an existing pool.
func NewRawStore(pool *Pool) *RawStore {
	return &RawStore{pool: pool}
}

// InsertBatch writes the whole batch as a single multi-row INSERT.
// All-or-nothing: a failed statement persists no rows.
func (s *RawStore) InsertBatch(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	if !s.pool.IsHealthy() {
		return ErrConnectionFailed
	}

	query := queries.BuildRawEventInsertQuery(len(evts))

	args := make([]interface{}, 0, len(evts)*queries.RawEventParamCount)
	for i := range evts {
		args = append(args, eventParams(&evts[i])...)
	}

	if _, err := s.pool.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store: raw event insert failed: %w", err)
	}
	return nil
}

// eventParams flattens one event into the column order of
// BuildRawEventInsertQuery. Absent optionals stay nil and persist as NULL.
func eventParams(e *events.Event) []interface{} {
	var params interface{}
	if e.Parameters != nil {
		params = e.Parameters
	}

	return []interface{}{
		e.Version,
		e.Tool,
		string(e.Status),
		e.TimestampHour,
		string(e.AnalyticsLevel),
		e.ResponseTimeMs,
		e.Service,
		e.CacheHit,
		e.RetryCount,
		e.Country,
		e.ErrorType,
		params,
		e.SessionID,
		e.SequenceNumber,
	}
}
