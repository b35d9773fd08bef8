package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/stats"
)

// The stats handlers share one shape: parse the period, answer from the
// read-through cache, and let compute errors surface as 500s. A cache
// backend outage silently degrades to direct computation.

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parsePeriod(w, r)
	if !ok {
		return
	}
	s.serveCached(w, r, "stats:overview:"+p.Token, func() (interface{}, error) {
		return s.deps.Stats.Overview(r.Context(), p)
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parsePeriod(w, r)
	if !ok {
		return
	}
	s.serveCached(w, r, "stats:tools:"+p.Token, func() (interface{}, error) {
		return s.deps.Stats.Tools(r.Context(), p)
	})
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parsePeriod(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if !events.ValidTool(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown_tool",
		})
		return
	}

	s.serveCached(w, r, "stats:tool:"+name+":"+p.Token, func() (interface{}, error) {
		return s.deps.Stats.Tool(r.Context(), name, p)
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parsePeriod(w, r)
	if !ok {
		return
	}
	s.serveCached(w, r, "stats:errors:"+p.Token, func() (interface{}, error) {
		return s.deps.Stats.Errors(r.Context(), p)
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parsePeriod(w, r)
	if !ok {
		return
	}
	s.serveCached(w, r, "stats:performance:"+p.Token, func() (interface{}, error) {
		return s.deps.Stats.Performance(r.Context(), p)
	})
}

func (s *Server) parsePeriod(w http.ResponseWriter, r *http.Request) (stats.Period, bool) {
	p, err := stats.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_period",
		})
		return stats.Period{}, false
	}
	return p, true
}

func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, compute func() (interface{}, error)) {
	body, err := s.deps.Cache.GetOrCompute(r.Context(), key, compute)
	if err != nil {
		if errors.Is(err, stats.ErrNoData) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no_data",
			})
			return
		}
		s.logger.Error("Stats query failed",
			"request_id", requestID(r.Context()),
			"key", key,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}
