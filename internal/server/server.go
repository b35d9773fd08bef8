package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weatherwise/telemetry/internal/config"
	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/health"
	"github.com/weatherwise/telemetry/internal/monitoring"
	"github.com/weatherwise/telemetry/internal/queue"
	"github.com/weatherwise/telemetry/internal/ratelimit"
	"github.com/weatherwise/telemetry/internal/stats"
	"github.com/weatherwise/telemetry/internal/utils"
	"github.com/weatherwise/telemetry/internal/worker"
)

// StatsProvider is the read side consumed by the stats handlers.
type StatsProvider interface {
	Overview(ctx context.Context, p stats.Period) (*stats.Overview, error)
	Tools(ctx context.Context, p stats.Period) (*stats.ToolList, error)
	Tool(ctx context.Context, name string, p stats.Period) (*stats.ToolDetail, error)
	Errors(ctx context.Context, p stats.Period) (*stats.ErrorList, error)
	Performance(ctx context.Context, p stats.Period) (*stats.Performance, error)
}

// Deps bundles everything the HTTP layer talks to.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *events.Validator
	Queue     *queue.Queue
	Limiter   *ratelimit.Limiter
	Stats     StatsProvider
	Cache     *stats.Cache
	Checker   *health.Checker
	Worker    *worker.Worker
	Metrics   *monitoring.Metrics
}

// Server is the public HTTP surface: ingestion, stats, health.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	http      *http.Server
	startedAt time.Time
}

// New builds the server and its route tree.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		deps:      deps,
		logger:    deps.Logger,
		startedAt: utils.NowUTC(),
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  deps.Config.Server.RequestTimeout,
		WriteTimeout: deps.Config.Server.RequestTimeout,
	}

	return s
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.Config.Server.Origins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleIngest)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/overview", s.handleOverview)
			r.Get("/tools", s.handleTools)
			r.Get("/tool/{name}", s.handleTool)
			r.Get("/errors", s.handleErrors)
			r.Get("/performance", s.handlePerformance)
		})

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})

	if s.deps.Config.Monitoring.PrometheusEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Start begins serving. Blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting",
		"port", s.deps.Config.Server.Port,
	)
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
