package queries

// QueryHealthCheck is the liveness probe query for the raw/aggregate store.
const QueryHealthCheck = `SELECT 1`
