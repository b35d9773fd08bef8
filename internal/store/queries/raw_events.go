package queries

import (
	"fmt"
	"strings"
)

// Number of parameters per event in the raw batch insert.
const RawEventParamCount = 14

// rawEventColumns lists the insert columns in parameter order.
const rawEventColumns = `
	version, tool, status, timestamp_hour, analytics_level,
	response_time_ms, service, cache_hit, retry_count, country,
	error_type, parameters, session_id, sequence_number`

// BuildRawEventInsertQuery builds a multi-row INSERT for count events.
// The whole batch goes into the store as one statement inside one
// transaction: N round-trips collapse to 1 and partial batch insert
// cannot happen.
func BuildRawEventInsertQuery(count int) string {
	if count <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(400 + count*60) // Pre-allocate

	b.WriteString("INSERT INTO raw_events (")
	b.WriteString(rawEventColumns)
	b.WriteString("\n) VALUES ")

	paramIdx := 1
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < RawEventParamCount; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", paramIdx))
			paramIdx++
		}
		b.WriteString(")")
	}

	return b.String()
}
