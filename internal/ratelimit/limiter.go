package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weatherwise/telemetry/internal/utils"
)

// Config holds rate limiter settings.
type Config struct {
	PerMinute    int           // requests per sliding minute (default: 60)
	Burst        int           // requests per sliding second (default: 10)
	BanThreshold int           // limit violations before a ban (default: 3)
	BanDuration  time.Duration // ban length (default: 10m)
	Logger       *slog.Logger
}

// ApplyDefaults applies default values to zero fields.
func (c *Config) ApplyDefaults() {
	if c.PerMinute == 0 {
		c.PerMinute = 60
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
	if c.BanThreshold == 0 {
		c.BanThreshold = 3
	}
	if c.BanDuration == 0 {
		c.BanDuration = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Banned     bool
	RetryAfter int // seconds; meaningful when !Allowed
}

// allowScript runs the whole check atomically so concurrent requests
// from the same client cannot slip past the window between read and
// write. Script result: {0, count} allowed, {-1, retryAfter} over
// limit, {-2, retryAfter} banned.
//
// KEYS[1] window zset, KEYS[2] ban key, KEYS[3] strikes key
// ARGV[1] now (us), ARGV[2] per-minute, ARGV[3] burst,
// ARGV[4] ban threshold, ARGV[5] ban seconds, ARGV[6] member
var allowScript = redis.NewScript(`
	local banTTL = redis.call('TTL', KEYS[2])
	if banTTL > 0 then
		return {-2, banTTL}
	end

	local now = tonumber(ARGV[1])
	local minuteAgo = now - 60000000
	local secondAgo = now - 1000000

	redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, minuteAgo)
	local minuteCount = redis.call('ZCARD', KEYS[1])
	local burstCount = redis.call('ZCOUNT', KEYS[1], secondAgo, '+inf')

	if minuteCount >= tonumber(ARGV[2]) or burstCount >= tonumber(ARGV[3]) then
		local strikes = redis.call('INCR', KEYS[3])
		redis.call('EXPIRE', KEYS[3], 60)
		if strikes >= tonumber(ARGV[4]) then
			redis.call('SET', KEYS[2], '1', 'EX', ARGV[5])
			redis.call('DEL', KEYS[1])
			redis.call('DEL', KEYS[3])
			return {-2, tonumber(ARGV[5])}
		end

		local retry = 1
		local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
		if oldest[2] then
			retry = math.ceil((tonumber(oldest[2]) + 60000000 - now) / 1000000)
			if retry < 1 then
				retry = 1
			end
		end
		return {-1, retry}
	end

	redis.call('ZADD', KEYS[1], now, ARGV[6])
	redis.call('EXPIRE', KEYS[1], 120)
	return {0, minuteCount + 1}
`)

// Limiter is a Redis-shared sliding-window rate limiter with a strike
// based ban. State lives in Redis so every API replica enforces the
// same budget per client.
type Limiter struct {
	rdb    *redis.Client
	config *Config
	logger *slog.Logger
	seq    uint64
}

// New creates a limiter over an existing Redis client.
func New(rdb *redis.Client, cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	return &Limiter{
		rdb:    rdb,
		config: cfg,
		logger: cfg.Logger,
	}
}

// Allow checks and consumes one request for the client key. A Redis
// failure allows the request: losing rate limiting briefly beats
// rejecting the whole fleet.
func (l *Limiter) Allow(ctx context.Context, clientKey string) Decision {
	now := utils.NowUTC().UnixMicro()

	// Member must be unique per request: a timestamp alone would dedupe
	// two requests landing on the same clock tick into one ZSET entry
	// and undercount the window.
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(atomic.AddUint64(&l.seq, 1), 10)

	keys := []string{
		"ratelimit:window:" + clientKey,
		"ratelimit:ban:" + clientKey,
		"ratelimit:strikes:" + clientKey,
	}
	args := []interface{}{
		now,
		l.config.PerMinute,
		l.config.Burst,
		l.config.BanThreshold,
		int(l.config.BanDuration.Seconds()),
		member,
	}

	result, err := allowScript.Run(ctx, l.rdb, keys, args...).Int64Slice()
	if err != nil || len(result) != 2 {
		l.logger.Warn("Rate limit check failed, allowing request",
			"client", clientKey,
			"error", err,
		)
		return Decision{Allowed: true}
	}

	switch result[0] {
	case -2:
		return Decision{Banned: true, RetryAfter: int(result[1])}
	case -1:
		return Decision{RetryAfter: int(result[1])}
	default:
		return Decision{Allowed: true}
	}
}

// Reset clears all limiter state for a client key.
func (l *Limiter) Reset(ctx context.Context, clientKey string) error {
	err := l.rdb.Del(ctx,
		"ratelimit:window:"+clientKey,
		"ratelimit:ban:"+clientKey,
		"ratelimit:strikes:"+clientKey,
	).Err()
	if err != nil {
		return fmt.Errorf("ratelimit: reset failed: %w", err)
	}
	return nil
}
