package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherwise/telemetry/internal/events"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func makeEvent(tool, version, country string, status events.Status, hour time.Time, rt *int) events.Event {
	e := events.Event{
		Version:        version,
		Tool:           tool,
		Status:         status,
		TimestampHour:  hour,
		AnalyticsLevel: events.LevelStandard,
		ResponseTimeMs: rt,
	}
	if country != "" {
		e.Country = strPtr(country)
	}
	return e
}

func TestBuildDailyGroups_Partitioning(t *testing.T) {
	hour := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)
	nextDay := time.Date(2025, 11, 13, 3, 0, 0, 0, time.UTC)

	evts := []events.Event{
		makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, intPtr(100)),
		makeEvent("get_forecast", "1.0.0", "US", events.StatusError, hour, intPtr(200)),
		makeEvent("get_forecast", "1.0.0", "DE", events.StatusSuccess, hour, nil),
		makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, nextDay, intPtr(50)),
		makeEvent("get_alerts", "1.0.0", "US", events.StatusSuccess, hour, nil),
	}

	groups := BuildDailyGroups(evts)
	require.Len(t, groups, 4)

	g := groups[DailyKey{Date: "2025-11-12", Tool: "get_forecast", Version: "1.0.0", Country: "US"}]
	require.NotNil(t, g)
	assert.Equal(t, int64(2), g.TotalCalls)
	assert.Equal(t, int64(1), g.SuccessCalls)
	assert.Equal(t, int64(1), g.ErrorCalls)
	assert.Equal(t, g.TotalCalls, g.SuccessCalls+g.ErrorCalls)
	assert.Equal(t, []int{100, 200}, g.ResponseTimes)
	assert.InDelta(t, 150.0, g.AvgResponseTime(), 0.001)
}

func TestBuildDailyGroups_MissingCountryGroupsUnderEmpty(t *testing.T) {
	hour := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)
	evts := []events.Event{
		makeEvent("get_forecast", "1.0.0", "", events.StatusSuccess, hour, nil),
		makeEvent("get_forecast", "1.0.0", "", events.StatusSuccess, hour, nil),
	}

	groups := BuildDailyGroups(evts)
	require.Len(t, groups, 1)

	g := groups[DailyKey{Date: "2025-11-12", Tool: "get_forecast", Version: "1.0.0", Country: ""}]
	require.NotNil(t, g)
	assert.Equal(t, int64(2), g.TotalCalls)
}

func TestBuildDailyGroups_CacheAndService(t *testing.T) {
	hour := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)

	e1 := makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, nil)
	e1.CacheHit = boolPtr(true)
	e1.Service = strPtr(events.ServiceNOAA)
	e1.RetryCount = intPtr(2)

	e2 := makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, nil)
	e2.CacheHit = boolPtr(false)
	e2.Service = strPtr(events.ServiceOpenMeteo)

	e3 := makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, nil)
	e3.CacheHit = boolPtr(true)

	groups := BuildDailyGroups([]events.Event{e1, e2, e3})
	g := groups[DailyKey{Date: "2025-11-12", Tool: "get_forecast", Version: "1.0.0", Country: "US"}]
	require.NotNil(t, g)

	assert.Equal(t, int64(2), g.CacheHits)
	assert.Equal(t, int64(1), g.CacheMisses)
	assert.InDelta(t, 2.0/3.0, g.CacheHitRate(), 0.001)
	assert.Equal(t, int64(1), g.NOAACalls)
	assert.Equal(t, int64(1), g.OpenMeteoCalls)
	assert.Equal(t, int64(2), g.TotalRetries)
	assert.InDelta(t, 2.0/3.0, g.AvgRetryCount(), 0.001)
}

func TestBuildHourlyGroups_KeysOnHour(t *testing.T) {
	h20 := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)
	h21 := time.Date(2025, 11, 12, 21, 0, 0, 0, time.UTC)

	evts := []events.Event{
		makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, h20, intPtr(80)),
		makeEvent("get_forecast", "1.0.0", "DE", events.StatusSuccess, h20, intPtr(120)),
		makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, h21, nil),
	}

	groups := BuildHourlyGroups(evts)
	require.Len(t, groups, 2)

	// Country does not partition the hourly rollup
	g := groups[HourlyKey{Hour: h20, Tool: "get_forecast", Version: "1.0.0"}]
	require.NotNil(t, g)
	assert.Equal(t, int64(2), g.TotalCalls)
	assert.InDelta(t, 100.0, g.AvgResponseTime(), 0.001)
}

func TestBuildErrorGroups(t *testing.T) {
	h20 := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)
	h22 := time.Date(2025, 11, 12, 22, 0, 0, 0, time.UTC)

	mk := func(version, errType string, hour time.Time) events.Event {
		e := makeEvent("get_forecast", version, "", events.StatusError, hour, nil)
		e.ErrorType = strPtr(errType)
		return e
	}

	evts := []events.Event{
		mk("1.0.0", "timeout", h20),
		mk("1.1.0", "timeout", h20),
		mk("1.0.0", "api_error", h20),
		mk("1.0.0", "timeout", h22),
		// success events never reach the error summary
		makeEvent("get_forecast", "1.0.0", "", events.StatusSuccess, h20, nil),
	}

	groups := BuildErrorGroups(evts)
	require.Len(t, groups, 3)

	g := groups[ErrorKey{Hour: h20, Tool: "get_forecast", ErrorType: "timeout"}]
	require.NotNil(t, g)
	assert.Equal(t, int64(2), g.Count)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, g.Versions())
	assert.Equal(t, h20, g.FirstSeen)
	assert.Equal(t, h20, g.LastSeen)
}

func TestBuildErrorGroups_MinimalErrorsSkipped(t *testing.T) {
	h := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)
	e := events.Event{
		Version:        "1.0.0",
		Tool:           "get_forecast",
		Status:         events.StatusError,
		TimestampHour:  h,
		AnalyticsLevel: events.LevelMinimal,
	}

	groups := BuildErrorGroups([]events.Event{e})
	assert.Empty(t, groups)
}

func TestPercentile_NearestRank(t *testing.T) {
	values := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	tests := []struct {
		name string
		q    float64
		want float64
	}{
		{"p50", 0.50, 50},
		{"p95", 0.95, 100},
		{"p99", 0.99, 100},
		{"p10", 0.10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile(values, tt.q))
		})
	}
}

func TestPercentile_EdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 0.95))
	assert.Equal(t, 42.0, Percentile([]int{42}, 0.5))

	// Input must stay untouched
	values := []int{30, 10, 20}
	_ = Percentile(values, 0.5)
	assert.Equal(t, []int{30, 10, 20}, values)
}

func TestMinMax(t *testing.T) {
	minV, maxV := MinMax([]int{50, 10, 90, 30})
	assert.Equal(t, 10.0, minV)
	assert.Equal(t, 90.0, maxV)

	minV, maxV = MinMax(nil)
	assert.Equal(t, 0.0, minV)
	assert.Equal(t, 0.0, maxV)
}

// mergeAvg is the store-side weighted re-averaging rule; mirrored here
// so the arithmetic the upsert relies on is pinned by a test.
func mergeAvg(avgA float64, nA int64, avgB float64, nB int64) float64 {
	if nA+nB == 0 {
		return 0
	}
	return (avgA*float64(nA) + avgB*float64(nB)) / float64(nA+nB)
}

func TestWeightedReAveraging(t *testing.T) {
	// 10 calls averaging 100ms merged with 1 call at 300ms. Averaging the
	// two averages would say 200; the weighted merge says 118.18.
	got := mergeAvg(100, 10, 300, 1)
	assert.InDelta(t, 118.1818, got, 0.001)
	assert.NotEqual(t, 200.0, got)
}

func TestMixedLevelGroupWeightsAvgByObservations(t *testing.T) {
	hour := time.Date(2025, 11, 12, 20, 0, 0, 0, time.UTC)

	// 5 minimal-level calls with no response time sharing a key with
	// 5 standard calls at 100ms. The average must stay 100, not be
	// dragged to 50 by calls that carried no observation.
	evts := make([]events.Event, 0, 10)
	for i := 0; i < 5; i++ {
		evts = append(evts, makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, nil))
	}
	for i := 0; i < 5; i++ {
		evts = append(evts, makeEvent("get_forecast", "1.0.0", "US", events.StatusSuccess, hour, intPtr(100)))
	}

	groups := BuildDailyGroups(evts)
	g := groups[DailyKey{Date: "2025-11-12", Tool: "get_forecast", Version: "1.0.0", Country: "US"}]
	require.NotNil(t, g)

	assert.Equal(t, int64(10), g.TotalCalls)
	assert.Equal(t, int64(5), g.ResponseTimeCount())
	assert.InDelta(t, 100.0, g.AvgResponseTime(), 0.001)

	// Merging the two halves as separate groups gives the same answer
	// when weighted by observation count. Weighting by call count would
	// give 50.
	merged := mergeAvg(0, 0, 100, 5)
	assert.InDelta(t, 100.0, merged, 0.001)
	assert.InDelta(t, 50.0, mergeAvg(0, 5, 100, 5), 0.001)
}

func TestNoObservationGroupYieldsNilBounds(t *testing.T) {
	minV, maxV := MinMaxOrNil(nil)
	assert.Nil(t, minV)
	assert.Nil(t, maxV)
	assert.Nil(t, PercentileOrNil(nil, 0.95))

	minV, maxV = MinMaxOrNil([]int{40, 10, 70})
	require.NotNil(t, minV)
	require.NotNil(t, maxV)
	assert.Equal(t, 10.0, *minV)
	assert.Equal(t, 70.0, *maxV)

	p := PercentileOrNil([]int{100}, 0.5)
	require.NotNil(t, p)
	assert.Equal(t, 100.0, *p)
}

func TestWeightedReAveraging_SplitMergeEquivalence(t *testing.T) {
	all := []int{100, 150, 200, 250, 300, 120, 180}

	flat := meanInt(all)

	left, right := all[:3], all[3:]
	merged := mergeAvg(meanInt(left), int64(len(left)), meanInt(right), int64(len(right)))

	assert.InDelta(t, flat, merged, 1e-9)
}
