package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/weatherwise/telemetry/internal/queue"
	"github.com/weatherwise/telemetry/internal/utils"
)

// handleIngest accepts one batch of anonymized events. The batch is
// all-or-nothing: any validation failure rejects every event in it.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decision := s.deps.Limiter.Allow(ctx, clientKey(r))
	if !decision.Allowed {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRateLimit(decision.Banned)
		}
		writeRateLimited(w, decision.RetryAfter)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.deps.Config.Server.BodyLimitBytes))
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejection("body_too_large")
		}
		writeValidationError(w, []string{"request body exceeds size limit"})
		return
	}

	evts, validationErrors := s.deps.Validator.ValidateBatch(body)
	if len(validationErrors) > 0 {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejection("validation")
		}
		s.logger.Debug("Batch rejected",
			"request_id", requestID(ctx),
			"errors", len(validationErrors),
		)
		writeValidationError(w, validationErrors)
		return
	}

	if !s.deps.Checker.IsHealthy() {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejection("store_unhealthy")
		}
		writeUnavailable(w)
		return
	}

	if err := s.deps.Queue.EnqueueMany(ctx, evts); err != nil {
		reason := "queue_unavailable"
		if errors.Is(err, queue.ErrQueueFull) {
			reason = "queue_full"
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejection(reason)
		}
		s.logger.Warn("Batch enqueue failed",
			"request_id", requestID(ctx),
			"reason", reason,
			"count", len(evts),
			"error", err,
		)
		writeUnavailable(w)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIngest(len(evts))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "accepted",
		"count":     len(evts),
		"timestamp": utils.NowUTC(),
	})
}
