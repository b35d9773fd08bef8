package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/weatherwise/telemetry/internal/aggregate"
	"github.com/weatherwise/telemetry/internal/config"
	"github.com/weatherwise/telemetry/internal/events"
	"github.com/weatherwise/telemetry/internal/health"
	"github.com/weatherwise/telemetry/internal/logger"
	"github.com/weatherwise/telemetry/internal/monitoring"
	"github.com/weatherwise/telemetry/internal/queue"
	"github.com/weatherwise/telemetry/internal/ratelimit"
	"github.com/weatherwise/telemetry/internal/server"
	"github.com/weatherwise/telemetry/internal/stats"
	"github.com/weatherwise/telemetry/internal/store"
	"github.com/weatherwise/telemetry/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; explicit environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel)

	log.Info("Starting telemetry service",
		"logging_level", cfg.Server.LoggingLevel,
		"port", cfg.Server.Port,
		"queue_max_size", cfg.Queue.MaxSize,
		"batch_size", cfg.Queue.BatchSize,
	)
	config.PrintConfig(log, cfg)

	// Durable store
	pool, err := store.NewPool(&store.Config{
		DatabaseURL:         cfg.Database.URL,
		MaxConns:            cfg.Database.MaxConns,
		MinConns:            cfg.Database.MinConns,
		HealthCheckInterval: cfg.Database.HealthCheckInterval,
		ConnectTimeout:      cfg.Database.ConnectTimeout,
		Logger:              log,
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pool.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		log.Error("Failed to ensure schema", "error", err)
		pool.Close()
		os.Exit(1)
	}
	schemaCancel()

	// Queue backend
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		pool.Close()
		os.Exit(1)
	}
	pingCancel()
	log.Info("Redis connected", "addr", cfg.Redis.Addr)

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	eventQueue := queue.New(rdb, cfg.Queue.Key, cfg.Queue.MaxSize, log)
	rawStore := store.NewRawStore(pool)
	aggregator := aggregate.New(pool, log)

	w := worker.New(eventQueue, rawStore, aggregator, &worker.Config{
		BatchSize:    cfg.Queue.BatchSize,
		PollInterval: cfg.Queue.PollInterval,
		Logger:       log,
		Metrics:      metrics,
	})
	w.Start()

	// Health monitor feeds the cached flag the hot paths consult
	checker := health.NewChecker()
	monitor := health.NewMonitor(&health.MonitorConfig{
		CheckInterval:    cfg.Database.HealthCheckInterval,
		FailureThreshold: 3,
		Logger:           log,
	}, checker, pool)

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	go monitor.Start(monitorCtx)

	// Queue depth gauge
	if cfg.Monitoring.PrometheusEnabled {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if depth, err := eventQueue.Depth(ctx); err == nil {
					metrics.UpdateQueueDepth(depth)
				}
				cancel()
			}
		}()
	}

	srv := server.New(server.Deps{
		Config:    cfg,
		Logger:    log,
		Validator: events.NewValidator(cfg.Server.MaxBatchSize),
		Queue:     eventQueue,
		Limiter: ratelimit.New(rdb, &ratelimit.Config{
			PerMinute:    cfg.RateLimit.PerMinute,
			Burst:        cfg.RateLimit.Burst,
			BanThreshold: cfg.RateLimit.BanThreshold,
			BanDuration:  cfg.RateLimit.BanDuration,
			Logger:       log,
		}),
		Stats:   stats.NewService(pool, log),
		Cache:   stats.NewCache(rdb, cfg.Stats.CacheTTL(), metrics, log),
		Checker: checker,
		Worker:  w,
		Metrics: metrics,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")

	// Stop accepting requests first, then drain the worker, then close
	// the backends. Events still in Redis survive the restart.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", "error", err)
	}

	if err := w.Shutdown(shutdownCtx); err != nil {
		log.Error("Worker forced to shutdown", "error", err)
	}

	monitorCancel()

	if err := rdb.Close(); err != nil {
		log.Error("Redis close failed", "error", err)
	}
	pool.Close()

	log.Info("Shutdown complete")
}
