package events

import "time"

// Status classifies the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// AnalyticsLevel controls which fields an event may carry.
// minimal: required fields only
// standard: adds performance fields
// detailed: adds session fields
type AnalyticsLevel string

const (
	LevelMinimal  AnalyticsLevel = "minimal"
	LevelStandard AnalyticsLevel = "standard"
	LevelDetailed AnalyticsLevel = "detailed"
)

// Upstream weather services the client tools call.
const (
	ServiceNOAA      = "noaa"
	ServiceOpenMeteo = "openmeteo"
)

// validTools is the closed set of tool names clients may report.
var validTools = map[string]bool{
	"get_forecast":           true,
	"get_hourly_forecast":    true,
	"get_current_conditions": true,
	"get_alerts":             true,
	"get_air_quality":        true,
	"get_sunrise_sunset":     true,
	"search_location":        true,
	"compare_locations":      true,
}

// ValidTool reports whether name is in the closed tool set.
func ValidTool(name string) bool {
	return validTools[name]
}

// ToolNames returns the closed tool set (for docs and tests).
func ToolNames() []string {
	names := make([]string, 0, len(validTools))
	for name := range validTools {
		names = append(names, name)
	}
	return names
}

// Event is a single anonymized usage observation reported by a client
// installation. Optional fields are pointers so the persisted row keeps
// NULL for fields outside the event's declared analytics level.
type Event struct {
	Version        string         `json:"version"`
	Tool           string         `json:"tool"`
	Status         Status         `json:"status"`
	TimestampHour  time.Time      `json:"timestamp_hour"`
	AnalyticsLevel AnalyticsLevel `json:"analytics_level"`

	// standard and above
	ResponseTimeMs *int    `json:"response_time_ms,omitempty"`
	Service        *string `json:"service,omitempty"`
	CacheHit       *bool   `json:"cache_hit,omitempty"`
	RetryCount     *int    `json:"retry_count,omitempty"`
	Country        *string `json:"country,omitempty"`
	ErrorType      *string `json:"error_type,omitempty"`

	// detailed only
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	SessionID      *string                `json:"session_id,omitempty"`
	SequenceNumber *int64                 `json:"sequence_number,omitempty"`
}

// CountryOrEmpty returns the event country code or "" when absent.
// Daily aggregates key on country with "" standing in for unknown.
func (e *Event) CountryOrEmpty() string {
	if e.Country == nil {
		return ""
	}
	return *e.Country
}
