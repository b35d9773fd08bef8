package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weatherwise/telemetry/internal/store"
	"github.com/weatherwise/telemetry/internal/store/queries"
	"github.com/weatherwise/telemetry/internal/utils"
)

// ErrNoData is returned when a scoped query matches nothing, e.g. a tool
// with no calls in the window. The HTTP layer maps it to 404.
var ErrNoData = errors.New("stats: no data for query")

// Calls one installation is assumed to make per day; divides total call
// volume into the install estimate. A heuristic, and reported as one.
const assumedCallsPerInstallPerDay = 25

const topListLimit = 5

// ==================== Response shapes ====================

type ToolCount struct {
	Tool  string `json:"tool"`
	Calls int64  `json:"calls"`
}

type ErrorCount struct {
	ErrorType string `json:"error_type"`
	Count     int64  `json:"count"`
}

type Overview struct {
	Period                 string       `json:"period"`
	TotalCalls             int64        `json:"total_calls"`
	SuccessCalls           int64        `json:"success_calls"`
	ErrorCalls             int64        `json:"error_calls"`
	SuccessRate            float64      `json:"success_rate"`
	AvgResponseTimeMs      float64      `json:"avg_response_time_ms"`
	CacheHitRate           float64      `json:"cache_hit_rate"`
	ActiveInstallsEstimate int64        `json:"active_installs_estimate"`
	EstimateMethod         string       `json:"estimate_method"`
	TopTools               []ToolCount  `json:"top_tools"`
	TopErrors              []ErrorCount `json:"top_errors"`
	GeneratedAt            time.Time    `json:"generated_at"`
}

type ToolStats struct {
	Tool              string  `json:"tool"`
	TotalCalls        int64   `json:"total_calls"`
	SuccessCalls      int64   `json:"success_calls"`
	ErrorCalls        int64   `json:"error_calls"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

type ToolList struct {
	Period string      `json:"period"`
	Tools  []ToolStats `json:"tools"`
}

type DailyPoint struct {
	Date              string  `json:"date"`
	TotalCalls        int64   `json:"total_calls"`
	SuccessCalls      int64   `json:"success_calls"`
	ErrorCalls        int64   `json:"error_calls"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

type VersionCount struct {
	Version string `json:"version"`
	Calls   int64  `json:"calls"`
}

type CountryCount struct {
	Country string `json:"country"`
	Calls   int64  `json:"calls"`
}

type ToolDetail struct {
	Tool        string         `json:"tool"`
	Period      string         `json:"period"`
	TotalCalls  int64          `json:"total_calls"`
	SuccessRate float64        `json:"success_rate"`
	DailySeries []DailyPoint   `json:"daily_series"`
	Versions    []VersionCount `json:"versions"`
	Countries   []CountryCount `json:"countries"`
}

type ErrorDetail struct {
	ErrorType        string    `json:"error_type"`
	Count            int64     `json:"count"`
	LastSeen         time.Time `json:"last_seen"`
	AffectedVersions []string  `json:"affected_versions"`
}

type ErrorList struct {
	Period      string        `json:"period"`
	TotalErrors int64         `json:"total_errors"`
	Errors      []ErrorDetail `json:"errors"`
}

type ServiceSplit struct {
	NOAACalls      int64 `json:"noaa_calls"`
	OpenMeteoCalls int64 `json:"openmeteo_calls"`
}

type Performance struct {
	Period            string       `json:"period"`
	AvgResponseTimeMs float64      `json:"avg_response_time_ms"`
	P50ResponseTimeMs float64      `json:"p50_response_time_ms"`
	P95ResponseTimeMs float64      `json:"p95_response_time_ms"`
	P99ResponseTimeMs float64      `json:"p99_response_time_ms"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	CacheHitRate      float64      `json:"cache_hit_rate"`
	Services          ServiceSplit `json:"services"`
}

// ==================== Service ====================

// Service answers the read-only stats queries over the aggregate tables.
type Service struct {
	pool   *store.Pool
	logger *slog.Logger
}

// NewService creates a stats service over an existing pool.
func NewService(pool *store.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, logger: logger}
}

// Overview returns the window summary with top tools and top errors.
// The independent reads run in parallel.
func (s *Service) Overview(ctx context.Context, p Period) (*Overview, error) {
	now := utils.NowUTC()
	since := p.Since(now)

	out := &Overview{
		Period:         p.Token,
		EstimateMethod: "calls_per_install_heuristic",
		TopTools:       []ToolCount{},
		TopErrors:      []ErrorCount{},
		GeneratedAt:    now,
	}

	var cacheHits, cacheMisses int64
	var avgResponse *float64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		totalsQuery := queries.QueryOverviewTotals
		if p.Hourly {
			totalsQuery = queries.QueryHourlyTotals
		}
		return s.pool.Pool().QueryRow(gctx, totalsQuery, since).Scan(
			&out.TotalCalls, &out.SuccessCalls, &out.ErrorCalls,
			&cacheHits, &cacheMisses,
		)
	})

	g.Go(func() error {
		return s.pool.Pool().QueryRow(gctx, queries.QueryOverviewAvgResponseTime, since).Scan(&avgResponse)
	})

	g.Go(func() error {
		topQuery := queries.QueryTopTools
		if p.Hourly {
			topQuery = queries.QueryTopToolsHourly
		}
		rows, err := s.pool.Pool().Query(gctx, topQuery, since, topListLimit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tc ToolCount
			if err := rows.Scan(&tc.Tool, &tc.Calls); err != nil {
				return err
			}
			out.TopTools = append(out.TopTools, tc)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.pool.Pool().Query(gctx, queries.QueryTopErrors, since, topListLimit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ec ErrorCount
			if err := rows.Scan(&ec.ErrorType, &ec.Count); err != nil {
				return err
			}
			out.TopErrors = append(out.TopErrors, ec)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stats: overview query failed: %w", err)
	}

	out.SuccessRate = ratio(out.SuccessCalls, out.TotalCalls)
	out.CacheHitRate = ratio(cacheHits, cacheHits+cacheMisses)
	if avgResponse != nil {
		out.AvgResponseTimeMs = *avgResponse
	}
	out.ActiveInstallsEstimate = estimateActiveInstalls(out.TotalCalls, p.Days())

	return out, nil
}

// Tools returns per-tool rollups sorted by call volume.
func (s *Service) Tools(ctx context.Context, p Period) (*ToolList, error) {
	since := p.Since(utils.NowUTC())

	rows, err := s.pool.Pool().Query(ctx, queries.QueryToolsStats, since)
	if err != nil {
		return nil, fmt.Errorf("stats: tools query failed: %w", err)
	}
	defer rows.Close()

	out := &ToolList{Period: p.Token, Tools: []ToolStats{}}
	for rows.Next() {
		var ts ToolStats
		var hits, misses int64
		if err := rows.Scan(&ts.Tool, &ts.TotalCalls, &ts.SuccessCalls, &ts.ErrorCalls,
			&ts.AvgResponseTimeMs, &hits, &misses); err != nil {
			return nil, fmt.Errorf("stats: tools scan failed: %w", err)
		}
		ts.SuccessRate = ratio(ts.SuccessCalls, ts.TotalCalls)
		ts.CacheHitRate = ratio(hits, hits+misses)
		out.Tools = append(out.Tools, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: tools query failed: %w", err)
	}
	return out, nil
}

// Tool returns the daily series plus version and country distributions
// for one tool. ErrNoData when the tool has no calls in the window.
func (s *Service) Tool(ctx context.Context, name string, p Period) (*ToolDetail, error) {
	since := p.Since(utils.NowUTC())

	out := &ToolDetail{
		Tool:        name,
		Period:      p.Token,
		DailySeries: []DailyPoint{},
		Versions:    []VersionCount{},
		Countries:   []CountryCount{},
	}
	var successCalls int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := s.pool.Pool().Query(gctx, queries.QueryToolDailySeries, since, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var dp DailyPoint
			var date time.Time
			var errCalls int64
			if err := rows.Scan(&date, &dp.TotalCalls, &dp.SuccessCalls, &errCalls, &dp.AvgResponseTimeMs); err != nil {
				return err
			}
			dp.Date = date.Format("2006-01-02")
			dp.ErrorCalls = errCalls
			out.DailySeries = append(out.DailySeries, dp)
			out.TotalCalls += dp.TotalCalls
			successCalls += dp.SuccessCalls
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.pool.Pool().Query(gctx, queries.QueryToolVersionDistribution, since, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var vc VersionCount
			if err := rows.Scan(&vc.Version, &vc.Calls); err != nil {
				return err
			}
			out.Versions = append(out.Versions, vc)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.pool.Pool().Query(gctx, queries.QueryToolCountryDistribution, since, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cc CountryCount
			if err := rows.Scan(&cc.Country, &cc.Calls); err != nil {
				return err
			}
			out.Countries = append(out.Countries, cc)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stats: tool query failed: %w", err)
	}

	if len(out.DailySeries) == 0 {
		return nil, ErrNoData
	}

	out.SuccessRate = ratio(successCalls, out.TotalCalls)
	return out, nil
}

// Errors returns the error-type distribution over the window.
func (s *Service) Errors(ctx context.Context, p Period) (*ErrorList, error) {
	since := p.Since(utils.NowUTC())

	rows, err := s.pool.Pool().Query(ctx, queries.QueryErrorStats, since)
	if err != nil {
		return nil, fmt.Errorf("stats: errors query failed: %w", err)
	}
	defer rows.Close()

	out := &ErrorList{Period: p.Token, Errors: []ErrorDetail{}}
	for rows.Next() {
		var ed ErrorDetail
		if err := rows.Scan(&ed.ErrorType, &ed.Count, &ed.LastSeen, &ed.AffectedVersions); err != nil {
			return nil, fmt.Errorf("stats: errors scan failed: %w", err)
		}
		out.TotalErrors += ed.Count
		out.Errors = append(out.Errors, ed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: errors query failed: %w", err)
	}
	return out, nil
}

// Performance returns window-exact percentiles over raw events plus
// cache and upstream service splits.
func (s *Service) Performance(ctx context.Context, p Period) (*Performance, error) {
	since := p.Since(utils.NowUTC())

	out := &Performance{Period: p.Token}

	var avg, p50, p95, p99 *float64
	var cacheHits, cacheMisses int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.pool.Pool().QueryRow(gctx, queries.QueryPerformancePercentiles, since).
			Scan(&avg, &p50, &p95, &p99)
	})

	g.Go(func() error {
		var total, success, errs int64
		return s.pool.Pool().QueryRow(gctx, queries.QueryOverviewTotals, since).
			Scan(&total, &success, &errs, &cacheHits, &cacheMisses)
	})

	g.Go(func() error {
		return s.pool.Pool().QueryRow(gctx, queries.QueryServiceDistribution, since).
			Scan(&out.Services.NOAACalls, &out.Services.OpenMeteoCalls)
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stats: performance query failed: %w", err)
	}

	out.AvgResponseTimeMs = deref(avg)
	out.P50ResponseTimeMs = deref(p50)
	out.P95ResponseTimeMs = deref(p95)
	out.P99ResponseTimeMs = deref(p99)
	out.CacheHits = cacheHits
	out.CacheMisses = cacheMisses
	out.CacheHitRate = ratio(cacheHits, cacheHits+cacheMisses)

	return out, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func estimateActiveInstalls(totalCalls int64, days int) int64 {
	den := int64(assumedCallsPerInstallPerDay) * int64(days)
	if den == 0 {
		return 0
	}
	return totalCalls / den
}
