package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/weatherwise/telemetry/internal/events"
)

// Batch-local grouping. The worker hands a dequeued batch to the
// aggregator, which folds it into per-key groups here before a single
// upsert per group. Group merging is commutative, so the same events
// split across batches converge to the same stored counters.

// DailyKey identifies one daily_aggregates row.
type DailyKey struct {
	Date    string // YYYY-MM-DD in UTC
	Tool    string
	Version string
	Country string
}

// DailyGroup accumulates one batch's contribution to a daily row.
type DailyGroup struct {
	TotalCalls   int64
	SuccessCalls int64
	ErrorCalls   int64

	ResponseTimes []int // events that carried response_time_ms

	CacheHits   int64
	CacheMisses int64

	NOAACalls      int64
	OpenMeteoCalls int64

	TotalRetries int64
}

// HourlyKey identifies one hourly_aggregates row.
type HourlyKey struct {
	Hour    time.Time
	Tool    string
	Version string
}

// HourlyGroup accumulates one batch's contribution to an hourly row.
type HourlyGroup struct {
	TotalCalls   int64
	SuccessCalls int64
	ErrorCalls   int64

	ResponseTimes []int

	CacheHits   int64
	CacheMisses int64
}

// ErrorKey identifies one error_summaries row.
type ErrorKey struct {
	Hour      time.Time
	Tool      string
	ErrorType string
}

// ErrorGroup accumulates one batch's contribution to an error summary.
type ErrorGroup struct {
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
	versions  map[string]bool
}

// Versions returns the sorted version set for the group.
func (g *ErrorGroup) Versions() []string {
	out := make([]string, 0, len(g.versions))
	for v := range g.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// BuildDailyGroups partitions the batch by (date, tool, version, country).
func BuildDailyGroups(evts []events.Event) map[DailyKey]*DailyGroup {
	groups := make(map[DailyKey]*DailyGroup)

	for i := range evts {
		e := &evts[i]
		key := DailyKey{
			Date:    e.TimestampHour.UTC().Format("2006-01-02"),
			Tool:    e.Tool,
			Version: e.Version,
			Country: e.CountryOrEmpty(),
		}

		g := groups[key]
		if g == nil {
			g = &DailyGroup{}
			groups[key] = g
		}

		g.TotalCalls++
		if e.Status == events.StatusSuccess {
			g.SuccessCalls++
		} else {
			g.ErrorCalls++
		}

		if e.ResponseTimeMs != nil {
			g.ResponseTimes = append(g.ResponseTimes, *e.ResponseTimeMs)
		}
		if e.CacheHit != nil {
			if *e.CacheHit {
				g.CacheHits++
			} else {
				g.CacheMisses++
			}
		}
		if e.Service != nil {
			switch *e.Service {
			case events.ServiceNOAA:
				g.NOAACalls++
			case events.ServiceOpenMeteo:
				g.OpenMeteoCalls++
			}
		}
		if e.RetryCount != nil {
			g.TotalRetries += int64(*e.RetryCount)
		}
	}

	return groups
}

// BuildHourlyGroups partitions the batch by (hour, tool, version).
func BuildHourlyGroups(evts []events.Event) map[HourlyKey]*HourlyGroup {
	groups := make(map[HourlyKey]*HourlyGroup)

	for i := range evts {
		e := &evts[i]
		key := HourlyKey{
			Hour:    e.TimestampHour.UTC(),
			Tool:    e.Tool,
			Version: e.Version,
		}

		g := groups[key]
		if g == nil {
			g = &HourlyGroup{}
			groups[key] = g
		}

		g.TotalCalls++
		if e.Status == events.StatusSuccess {
			g.SuccessCalls++
		} else {
			g.ErrorCalls++
		}

		if e.ResponseTimeMs != nil {
			g.ResponseTimes = append(g.ResponseTimes, *e.ResponseTimeMs)
		}
		if e.CacheHit != nil {
			if *e.CacheHit {
				g.CacheHits++
			} else {
				g.CacheMisses++
			}
		}
	}

	return groups
}

// BuildErrorGroups partitions error events by (hour, tool, error_type).
// Events without an error_type (minimal level) are skipped: there is
// nothing to summarize under.
func BuildErrorGroups(evts []events.Event) map[ErrorKey]*ErrorGroup {
	groups := make(map[ErrorKey]*ErrorGroup)

	for i := range evts {
		e := &evts[i]
		if e.Status != events.StatusError || e.ErrorType == nil || *e.ErrorType == "" {
			continue
		}

		key := ErrorKey{
			Hour:      e.TimestampHour.UTC(),
			Tool:      e.Tool,
			ErrorType: *e.ErrorType,
		}

		g := groups[key]
		if g == nil {
			g = &ErrorGroup{
				FirstSeen: e.TimestampHour,
				LastSeen:  e.TimestampHour,
				versions:  make(map[string]bool),
			}
			groups[key] = g
		}

		g.Count++
		if e.TimestampHour.Before(g.FirstSeen) {
			g.FirstSeen = e.TimestampHour
		}
		if e.TimestampHour.After(g.LastSeen) {
			g.LastSeen = e.TimestampHour
		}
		g.versions[e.Version] = true
	}

	return groups
}

// AvgResponseTime returns the group's local mean response time, or 0
// when no event carried one.
func (g *DailyGroup) AvgResponseTime() float64 {
	return meanInt(g.ResponseTimes)
}

// ResponseTimeCount returns how many events in the group carried a
// response time. This, not TotalCalls, is the weight for merging
// averages: minimal-level events count toward calls but contribute no
// response time observation.
func (g *DailyGroup) ResponseTimeCount() int64 {
	return int64(len(g.ResponseTimes))
}

// AvgRetryCount returns the mean retry count over events that reported
// one, spread over all calls in the group.
func (g *DailyGroup) AvgRetryCount() float64 {
	if g.TotalCalls == 0 {
		return 0
	}
	return float64(g.TotalRetries) / float64(g.TotalCalls)
}

// CacheHitRate returns hits/(hits+misses), or 0 on an empty denominator.
func (g *DailyGroup) CacheHitRate() float64 {
	total := g.CacheHits + g.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(g.CacheHits) / float64(total)
}

// AvgResponseTime returns the group's local mean response time.
func (g *HourlyGroup) AvgResponseTime() float64 {
	return meanInt(g.ResponseTimes)
}

// ResponseTimeCount returns how many events in the group carried a
// response time.
func (g *HourlyGroup) ResponseTimeCount() int64 {
	return int64(len(g.ResponseTimes))
}

func meanInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += int64(v)
	}
	return float64(sum) / float64(len(values))
}

// Percentile computes the nearest-rank percentile of values. q is in
// (0, 1]. Returns 0 for an empty slice. values is not mutated.
func Percentile(values []int, q float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return float64(sorted[rank-1])
}

// PercentileOrNil is Percentile, except an empty slice yields nil so
// the upsert passes NULL instead of a fake zero observation.
func PercentileOrNil(values []int, q float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	p := Percentile(values, q)
	return &p
}

// MinMax returns the smallest and largest of values, or (0, 0) when empty.
func MinMax(values []int) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return float64(minV), float64(maxV)
}

// MinMaxOrNil is MinMax, except an empty slice yields nils. A group
// with no response times must not contribute 0 to a LEAST merge.
func MinMaxOrNil(values []int) (*float64, *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	minV, maxV := MinMax(values)
	return &minV, &maxV
}
