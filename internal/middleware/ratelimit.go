package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/config"
	"github.com/iliyamo/festival-ticketing/internal/logger"
)

// bucketScript refills the bucket for the time elapsed since the last
// call, then tries to take one token. Tokens are kept in thousandths so a
// slow refill rate still accrues between scans. Returns
// {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cap = tonumber(ARGV[2]) * 1000
local per_ms = tonumber(ARGV[3]) * 1000 / tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'milli'))
local stamp = tonumber(redis.call('HGET', KEYS[1], 'at'))
if tokens == nil or stamp == nil then
	tokens = cap
	stamp = now
end
tokens = math.min(cap, tokens + math.max(0, now - stamp) * per_ms)

local allowed = 0
local wait = 0
if tokens >= 1000 then
	allowed = 1
	tokens = tokens - 1000
else
	wait = math.ceil((1000 - tokens) / per_ms)
end
redis.call('HSET', KEYS[1], 'milli', tokens, 'at', now)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, math.floor(tokens / 1000), wait}
`)

// NewTokenBucket throttles gate devices with a Redis token bucket. When
// Redis fails the request goes through: a gate must keep scanning while
// the limiter is down.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = logger.OrNop(log)
	limit := strconv.Itoa(cfg.Capacity)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			res, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				cfg.TTL.Milliseconds(),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res[0] == 1 {
				return next(c)
			}

			secs := (res[2] + 999) / 1000
			if secs < 1 {
				secs = 1
			}
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
			logger.WithContext(c.Request().Context(), log).Info("gate request throttled",
				zap.String("key", key), zap.Int64("retry_after_s", secs))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":     "rate_limited",
				"detail":    "too many scans from this device",
				"retryable": true,
			})
		}
	}
}

// buildRateKey picks the bucket for a request. "device" falls back to the
// client address for tokens minted without a device claim.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "user":
		uid := UserID(c)
		if uid == "" {
			uid = "anon"
		}
		return cfg.Prefix + ":user:" + uid
	case "ip":
		return cfg.Prefix + ":ip:" + ip
	default:
		if dev := DeviceID(c); dev != "" {
			return cfg.Prefix + ":device:" + dev
		}
		return cfg.Prefix + ":ip:" + ip
	}
}
