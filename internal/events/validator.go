package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/weatherwise/telemetry/internal/utils"
)

// piiFieldNames is the forbidden field-name set. Any top-level key or
// parameters subkey matching one of these (case-insensitive) rejects the
// whole batch. The check runs before schema validation so a schema error
// can never mask the presence of PII.
var piiFieldNames = map[string]bool{
	"latitude": true, "longitude": true, "lat": true, "lon": true,
	"location": true, "address": true, "city": true, "street": true,
	"zip": true, "zipcode": true, "postal_code": true,
	"user_id": true, "userid": true, "user": true, "username": true,
	"email": true, "phone": true,
	"ip": true, "ip_address": true, "ipaddress": true,
	"name": true, "first_name": true, "last_name": true,
	"firstname": true, "lastname": true,
	"ssn": true, "social_security": true,
}

// requiredFields must be present at every analytics level.
var requiredFields = []string{"version", "tool", "status", "timestamp_hour", "analytics_level"}

// standardFields are additionally allowed at standard and detailed levels.
var standardFields = map[string]bool{
	"response_time_ms": true,
	"service":          true,
	"cache_hit":        true,
	"retry_count":      true,
	"country":          true,
	"error_type":       true,
}

// detailedFields are additionally allowed at the detailed level only.
var detailedFields = map[string]bool{
	"parameters":      true,
	"session_id":      true,
	"sequence_number": true,
}

const (
	maxResponseTimeMs  = 120000
	maxRetryCount      = 10
	maxErrorTypeLength = 100
	sessionIDLength    = 16
)

// Validator validates ingestion request bodies. It holds no per-request
// state and is safe for concurrent use.
type Validator struct {
	maxBatchSize int
}

func NewValidator(maxBatchSize int) *Validator {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &Validator{maxBatchSize: maxBatchSize}
}

// ValidateBatch parses and validates a request body. It returns the decoded
// events on success, or a list of human-readable errors (with event indices)
// on failure. A batch either fully succeeds or fully fails; structural
// errors short-circuit before per-event checks.
func (v *Validator) ValidateBatch(body []byte) ([]Event, []string) {
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&envelope); err != nil {
		return nil, []string{fmt.Sprintf("body must be a JSON object with a single \"events\" array: %v", err)}
	}
	if dec.More() {
		return nil, []string{"body contains trailing data after the JSON object"}
	}

	if envelope.Events == nil {
		return nil, []string{"missing required field: events"}
	}
	if len(envelope.Events) == 0 {
		return nil, []string{"events array must contain at least 1 event"}
	}
	if len(envelope.Events) > v.maxBatchSize {
		return nil, []string{fmt.Sprintf("events array exceeds maximum of %d events (got %d)", v.maxBatchSize, len(envelope.Events))}
	}

	raws := make([]map[string]interface{}, len(envelope.Events))
	var errs []string
	for i, raw := range envelope.Events {
		fields, err := decodeEventObject(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("events[%d]: %v", i, err))
			continue
		}
		raws[i] = fields
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// PII rejection runs before schema checks: a schema-stripping pass
	// would otherwise drop PII keys and silently admit the event.
	for i, fields := range raws {
		if pii := findPIIFields(fields); len(pii) > 0 {
			errs = append(errs, fmt.Sprintf("events[%d]: forbidden PII field(s): %s", i, strings.Join(pii, ", ")))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	parsed := make([]Event, 0, len(raws))
	for i, fields := range raws {
		event, eventErrs := validateEvent(fields)
		if len(eventErrs) > 0 {
			for _, e := range eventErrs {
				errs = append(errs, fmt.Sprintf("events[%d]: %s", i, e))
			}
			continue
		}
		parsed = append(parsed, event)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return parsed, nil
}

// decodeEventObject decodes a single batch entry into a key/value map,
// preserving number precision via json.Number.
func decodeEventObject(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("event must be a JSON object")
	}
	return fields, nil
}

// findPIIFields returns the forbidden names present at the top level or
// anywhere inside the parameters map (any nesting depth).
func findPIIFields(fields map[string]interface{}) []string {
	var found []string
	for key := range fields {
		if piiFieldNames[strings.ToLower(key)] {
			found = append(found, key)
		}
	}
	if params, ok := fields["parameters"].(map[string]interface{}); ok {
		found = append(found, findPIIKeysDeep(params, "parameters")...)
	}
	return found
}

func findPIIKeysDeep(m map[string]interface{}, path string) []string {
	var found []string
	for key, value := range m {
		if piiFieldNames[strings.ToLower(key)] {
			found = append(found, path+"."+key)
		}
		if nested, ok := value.(map[string]interface{}); ok {
			found = append(found, findPIIKeysDeep(nested, path+"."+key)...)
		}
	}
	return found
}

// validateEvent checks the discriminated schema for one event and builds
// the typed Event. Unknown fields and fields above the declared analytics
// level are rejected, not dropped.
func validateEvent(fields map[string]interface{}) (Event, []string) {
	var errs []string
	var event Event

	levelRaw, ok := fields["analytics_level"].(string)
	if !ok {
		return event, []string{"missing or non-string field: analytics_level"}
	}
	level := AnalyticsLevel(levelRaw)
	switch level {
	case LevelMinimal, LevelStandard, LevelDetailed:
	default:
		return event, []string{fmt.Sprintf("invalid analytics_level: %q (must be minimal, standard, or detailed)", levelRaw)}
	}
	event.AnalyticsLevel = level

	for _, name := range requiredFields {
		if _, present := fields[name]; !present {
			errs = append(errs, fmt.Sprintf("missing required field: %s", name))
		}
	}

	for key := range fields {
		if isFieldAllowed(key, level) {
			continue
		}
		if standardFields[key] || detailedFields[key] {
			errs = append(errs, fmt.Sprintf("field %q is not allowed at analytics_level %q", key, level))
		} else {
			errs = append(errs, fmt.Sprintf("unknown field: %s", key))
		}
	}
	if len(errs) > 0 {
		return event, errs
	}

	if version, ok := fields["version"].(string); ok && version != "" && len(version) <= 32 {
		event.Version = version
	} else {
		errs = append(errs, "version must be a non-empty string of at most 32 characters")
	}

	if tool, ok := fields["tool"].(string); ok && ValidTool(tool) {
		event.Tool = tool
	} else {
		errs = append(errs, fmt.Sprintf("tool must be one of the known tool names (got %v)", fields["tool"]))
	}

	if status, ok := fields["status"].(string); ok && (Status(status) == StatusSuccess || Status(status) == StatusError) {
		event.Status = Status(status)
	} else {
		errs = append(errs, "status must be \"success\" or \"error\"")
	}

	if tsRaw, ok := fields["timestamp_hour"].(string); ok {
		ts, err := time.Parse(time.RFC3339, tsRaw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("timestamp_hour is not a valid RFC3339 timestamp: %q", tsRaw))
		} else if !utils.IsHourAligned(ts) {
			errs = append(errs, fmt.Sprintf("timestamp_hour must be aligned to the hour (zero minutes/seconds): %q", tsRaw))
		} else {
			event.TimestampHour = ts.UTC()
		}
	} else {
		errs = append(errs, "missing or non-string field: timestamp_hour")
	}

	if level != LevelMinimal {
		errs = append(errs, validateStandardFields(fields, &event)...)
	}
	if level == LevelDetailed {
		errs = append(errs, validateDetailedFields(fields, &event)...)
	}

	// errorType is required for error events above the minimal level.
	if event.Status == StatusError && level != LevelMinimal {
		if event.ErrorType == nil || *event.ErrorType == "" {
			errs = append(errs, "error_type is required for error events at standard and detailed levels")
		}
	}

	if len(errs) > 0 {
		return Event{}, errs
	}
	return event, nil
}

func isFieldAllowed(name string, level AnalyticsLevel) bool {
	for _, required := range requiredFields {
		if name == required {
			return true
		}
	}
	switch level {
	case LevelStandard:
		return standardFields[name]
	case LevelDetailed:
		return standardFields[name] || detailedFields[name]
	default:
		return false
	}
}

func validateStandardFields(fields map[string]interface{}, event *Event) []string {
	var errs []string

	if raw, present := fields["response_time_ms"]; present {
		if rt, ok := asInt(raw); ok && rt >= 0 && rt <= maxResponseTimeMs {
			event.ResponseTimeMs = &rt
		} else {
			errs = append(errs, fmt.Sprintf("response_time_ms must be an integer in [0, %d]", maxResponseTimeMs))
		}
	}

	if raw, present := fields["service"]; present {
		if svc, ok := raw.(string); ok && (svc == ServiceNOAA || svc == ServiceOpenMeteo) {
			event.Service = &svc
		} else {
			errs = append(errs, "service must be \"noaa\" or \"openmeteo\"")
		}
	}

	if raw, present := fields["cache_hit"]; present {
		if hit, ok := raw.(bool); ok {
			event.CacheHit = &hit
		} else {
			errs = append(errs, "cache_hit must be a boolean")
		}
	}

	if raw, present := fields["retry_count"]; present {
		if rc, ok := asInt(raw); ok && rc >= 0 && rc <= maxRetryCount {
			event.RetryCount = &rc
		} else {
			errs = append(errs, fmt.Sprintf("retry_count must be an integer in [0, %d]", maxRetryCount))
		}
	}

	if raw, present := fields["country"]; present {
		if country, ok := raw.(string); ok && isCountryCode(country) {
			upper := strings.ToUpper(country)
			event.Country = &upper
		} else {
			errs = append(errs, "country must be a 2-letter ISO 3166-1 alpha-2 code")
		}
	}

	if raw, present := fields["error_type"]; present {
		if et, ok := raw.(string); ok && et != "" && len(et) <= maxErrorTypeLength {
			event.ErrorType = &et
		} else {
			errs = append(errs, fmt.Sprintf("error_type must be a non-empty string of at most %d characters", maxErrorTypeLength))
		}
	}

	return errs
}

func validateDetailedFields(fields map[string]interface{}, event *Event) []string {
	var errs []string

	if raw, present := fields["parameters"]; present {
		if params, ok := raw.(map[string]interface{}); ok {
			event.Parameters = params
		} else {
			errs = append(errs, "parameters must be a JSON object")
		}
	}

	if raw, present := fields["session_id"]; present {
		if sid, ok := raw.(string); ok && len(sid) == sessionIDLength {
			event.SessionID = &sid
		} else {
			errs = append(errs, fmt.Sprintf("session_id must be a %d-character opaque string", sessionIDLength))
		}
	}

	if raw, present := fields["sequence_number"]; present {
		if seq, ok := asInt64(raw); ok && seq >= 0 {
			event.SequenceNumber = &seq
		} else {
			errs = append(errs, "sequence_number must be a non-negative integer")
		}
	}

	return errs
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func asInt(raw interface{}) (int, bool) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, false
	}
	v, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func asInt64(raw interface{}) (int64, bool) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, false
	}
	v, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}
