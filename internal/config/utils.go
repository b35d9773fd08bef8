package config

import (
	"log/slog"
	"os"
	"strings"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("server",
		"port", cfg.Server.Port,
		"body_limit_bytes", cfg.Server.BodyLimitBytes,
		"max_batch_size", cfg.Server.MaxBatchSize,
		"request_timeout", cfg.Server.RequestTimeout.String(),
		"logging_level", cfg.Server.LoggingLevel,
		"cors_origins", len(cfg.Server.Origins()),
	)

	logger.Info("queue",
		"key", cfg.Queue.Key,
		"max_size", cfg.Queue.MaxSize,
		"batch_size", cfg.Queue.BatchSize,
		"poll_interval", cfg.Queue.PollInterval.String(),
	)

	logger.Info("rate_limit",
		"per_minute", cfg.RateLimit.PerMinute,
		"burst", cfg.RateLimit.Burst,
		"ban_threshold", cfg.RateLimit.BanThreshold,
		"ban_duration", cfg.RateLimit.BanDuration.String(),
	)

	logger.Info("database",
		"url", "***REDACTED***",
		"max_conns", cfg.Database.MaxConns,
		"min_conns", cfg.Database.MinConns,
		"connect_timeout", cfg.Database.ConnectTimeout.String(),
		"health_check_interval", cfg.Database.HealthCheckInterval.String(),
		"pool_idle_timeout", cfg.Database.PoolIdleTimeout.String(),
	)

	logger.Info("stats",
		"cache_ttl_seconds", cfg.Stats.CacheTTLSeconds,
	)

	logger.Info("retention",
		"events_days", cfg.Retention.EventsDays,
		"daily_days", cfg.Retention.DailyDays,
		"hourly_days", cfg.Retention.HourlyDays,
		"errors_days", cfg.Retention.ErrorsDays,
	)

	logger.Info("monitoring",
		"prometheus_enabled", cfg.Monitoring.PrometheusEnabled,
	)

	logger.Info("=== Configuration Ready ===")
}
