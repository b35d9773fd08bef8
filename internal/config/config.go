package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Database   DatabaseConfig   `yaml:"database"`
	Stats      StatsConfig      `yaml:"stats"`
	Retention  RetentionConfig  `yaml:"retention"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	BodyLimitBytes int64         `yaml:"body_limit_bytes"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LoggingLevel   string        `yaml:"logging_level"`
	CORSOrigin     string        `yaml:"cors_origin"`
}

// Origins splits the comma-separated CORS origin list.
func (s *ServerConfig) Origins() []string {
	if s.CORSOrigin == "" {
		return nil
	}
	parts := strings.Split(s.CORSOrigin, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Key          string        `yaml:"key"`
	MaxSize      int64         `yaml:"max_size"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RateLimitConfig struct {
	PerMinute    int           `yaml:"per_minute"`
	Burst        int           `yaml:"burst"`
	BanThreshold int           `yaml:"ban_threshold"`
	BanDuration  time.Duration `yaml:"ban_duration"`
}

type DatabaseConfig struct {
	URL                 string        `yaml:"url"`
	MaxConns            int32         `yaml:"max_conns"`
	MinConns            int32         `yaml:"min_conns"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	PoolIdleTimeout     time.Duration `yaml:"pool_idle_timeout"`
}

type StatsConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the stats cache TTL as a duration.
func (s *StatsConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

type RetentionConfig struct {
	EventsDays int `yaml:"events_days"`
	DailyDays  int `yaml:"daily_days"`
	HourlyDays int `yaml:"hourly_days"`
	ErrorsDays int `yaml:"errors_days"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize resolves environment references and applies defaults.
func (c *Config) Normalize() {
	c.Database.URL = resolveEnvString(c.Database.URL)
	c.Redis.Addr = resolveEnvString(c.Redis.Addr)
	c.Redis.Password = resolveEnvString(c.Redis.Password)

	if c.Server.BodyLimitBytes == 0 {
		c.Server.BodyLimitBytes = 100 * 1024
	}
	if c.Server.MaxBatchSize == 0 {
		c.Server.MaxBatchSize = 100
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Queue.Key == "" {
		c.Queue.Key = "telemetry:events"
	}
	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = 10000
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 100
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.BanThreshold == 0 {
		c.RateLimit.BanThreshold = 3
	}
	if c.RateLimit.BanDuration == 0 {
		c.RateLimit.BanDuration = 10 * time.Minute
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 10 * time.Second
	}
	if c.Database.HealthCheckInterval == 0 {
		c.Database.HealthCheckInterval = 30 * time.Second
	}
	if c.Database.PoolIdleTimeout == 0 {
		c.Database.PoolIdleTimeout = 5 * time.Minute
	}
	if c.Stats.CacheTTLSeconds == 0 {
		c.Stats.CacheTTLSeconds = 300
	}
	if c.Retention.EventsDays == 0 {
		c.Retention.EventsDays = 90
	}
	if c.Retention.DailyDays == 0 {
		c.Retention.DailyDays = 730
	}
	if c.Retention.HourlyDays == 0 {
		c.Retention.HourlyDays = 30
	}
	if c.Retention.ErrorsDays == 0 {
		c.Retention.ErrorsDays = 90
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BodyLimitBytes <= 0 {
		return fmt.Errorf("invalid body_limit_bytes: %d", c.Server.BodyLimitBytes)
	}

	if c.Server.MaxBatchSize <= 0 || c.Server.MaxBatchSize > 1000 {
		return fmt.Errorf("invalid max_batch_size: %d", c.Server.MaxBatchSize)
	}

	if c.Server.LoggingLevel != "" {
		validLevels := map[string]bool{"info": true, "debug": true, "error": true}
		if !validLevels[c.Server.LoggingLevel] {
			return fmt.Errorf("invalid logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
		}
	} else {
		c.Server.LoggingLevel = "info"
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("invalid queue max_size: %d", c.Queue.MaxSize)
	}

	if c.Queue.BatchSize <= 0 || int64(c.Queue.BatchSize) > c.Queue.MaxSize {
		return fmt.Errorf("invalid queue batch_size: %d", c.Queue.BatchSize)
	}

	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("invalid rate_limit per_minute: %d", c.RateLimit.PerMinute)
	}

	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	return nil
}
