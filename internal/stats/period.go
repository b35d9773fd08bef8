package stats

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned for unknown period tokens.
var ErrInvalidPeriod = errors.New("stats: invalid period")

// Period is a parsed query window token.
type Period struct {
	Token  string
	Window time.Duration
	Hourly bool // short windows resolve against hourly_aggregates
}

// DefaultPeriod is applied when the query string omits ?period=.
const DefaultPeriod = "30d"

// dashboardPeriods are the tokens the public stats endpoints accept.
var dashboardPeriods = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// internalPeriods extends the dashboard set with sub-day windows for the
// internal all view.
var internalPeriods = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// ParsePeriod parses a dashboard period token. Empty defaults to 30d.
func ParsePeriod(token string) (Period, error) {
	if token == "" {
		token = DefaultPeriod
	}
	if window, ok := dashboardPeriods[token]; ok {
		return Period{Token: token, Window: window}, nil
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, token)
}

// ParseInternalPeriod parses a period token for the internal view, which
// additionally accepts hour-granular windows.
func ParseInternalPeriod(token string) (Period, error) {
	if p, err := ParsePeriod(token); err == nil {
		return p, nil
	}
	if window, ok := internalPeriods[token]; ok {
		return Period{Token: token, Window: window, Hourly: true}, nil
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, token)
}

// Since returns the window start for the period relative to now.
func (p Period) Since(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// Days returns the window length in whole days, minimum 1. Used by the
// active-install heuristic.
func (p Period) Days() int {
	days := int(p.Window / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}
