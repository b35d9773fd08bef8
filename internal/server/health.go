package server

import (
	"net/http"
	"runtime"

	"github.com/weatherwise/telemetry/internal/stats"
)

// handleHealth is the liveness probe: cheap, no direct store I/O, built
// from the cached health flag and the live queue depth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := s.deps.Checker.IsHealthy()

	depth, err := s.deps.Queue.Depth(r.Context())
	if err != nil {
		depth = -1
	}
	if s.deps.Metrics != nil && depth >= 0 {
		s.deps.Metrics.UpdateQueueDepth(depth)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "ok"
	code := http.StatusOK
	if !dbHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":             status,
		"database_connected": dbHealthy,
		"queue_depth":        depth,
		"uptime_seconds":     int64(s.Uptime().Seconds()),
		"memory_used_bytes":  mem.Alloc,
	})
}

// handleStatus is the internal view: pipeline counters, cache counters,
// and an overview for an hour-granular window when ?period= is given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.deps.Queue.Depth(r.Context())
	if err != nil {
		depth = -1
	}

	out := map[string]interface{}{
		"database_connected": s.deps.Checker.IsHealthy(),
		"queue_depth":        depth,
		"uptime_seconds":     int64(s.Uptime().Seconds()),
	}

	if s.deps.Worker != nil {
		out["pipeline"] = s.deps.Worker.Stats()
	}
	if s.deps.Cache != nil {
		out["stats_cache"] = s.deps.Cache.Stats()
	}

	if token := r.URL.Query().Get("period"); token != "" {
		p, err := stats.ParseInternalPeriod(token)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_period",
			})
			return
		}
		overview, err := s.deps.Stats.Overview(r.Context(), p)
		if err != nil {
			s.logger.Error("Status overview failed",
				"request_id", requestID(r.Context()),
				"error", err,
			)
		} else {
			out["overview"] = overview
		}
	}

	writeJSON(w, http.StatusOK, out)
}
