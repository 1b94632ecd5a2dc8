package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/festival-ticketing/internal/config"
	"github.com/iliyamo/festival-ticketing/internal/model"
)

// captureWriter copies the response body, up to limit bytes, while
// forwarding it to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// AvailabilityCache keeps GET /v1/availability answers in Redis, one key
// per section, date and quantity. A nil *AvailabilityCache is valid and
// caches nothing.
type AvailabilityCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
}

// NewAvailabilityCache returns nil when caching is disabled or rdb is nil.
func NewAvailabilityCache(cfg config.CacheConfig, rdb *redis.Client) *AvailabilityCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 10
	}
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = 20
	}
	return &AvailabilityCache{cfg: cfg, rdb: rdb}
}

// availabilityKey normalises the query so "AMPH" and " amph " share a key.
// ok is false for requests that are not worth caching (bad input answers
// 400 anyway).
func availabilityKey(prefix, section, date, qty string, maxQty int) (string, bool) {
	section = strings.ToLower(strings.TrimSpace(section))
	if section == "" || strings.ContainsAny(section, ": ") {
		return "", false
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return "", false
	}
	n := 1
	if qty != "" {
		var err error
		if n, err = strconv.Atoi(qty); err != nil || n < 1 || n > maxQty {
			return "", false
		}
	}
	return fmt.Sprintf("%s:%s:%s:%d", prefix, section, date, n), true
}

// Middleware serves cached 200 answers and stores fresh ones for cfg.TTL.
func (a *AvailabilityCache) Middleware() echo.MiddlewareFunc {
	if a == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := availabilityKey(a.cfg.Prefix, c.QueryParam("section"), c.QueryParam("date"), c.QueryParam("qty"), a.cfg.MaxQuantity)
			if !ok || c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()
			if body, err := a.rdb.Get(ctx, key).Bytes(); err == nil && len(body) > 0 {
				c.Response().Header().Set("X-Cache", "HIT")
				return c.JSONBlob(http.StatusOK, body)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(a.cfg.MaxBodyBytes)}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			// Truncated bodies are never stored.
			if cw.status == http.StatusOK && cw.size <= int64(a.cfg.MaxBodyBytes) {
				_ = a.rdb.SetEx(context.WithoutCancel(ctx), key, cw.buf.Bytes(), a.cfg.TTL).Err()
			}
			return nil
		}
	}
}

// Invalidate drops every cached answer for section on date so the next poll
// sees a new hold.
func (a *AvailabilityCache) Invalidate(ctx context.Context, section string, date time.Time) {
	if a == nil {
		return
	}
	day := date.Format(model.DateLayout)
	keys := make([]string, 0, a.cfg.MaxQuantity)
	for n := 1; n <= a.cfg.MaxQuantity; n++ {
		if k, ok := availabilityKey(a.cfg.Prefix, section, day, strconv.Itoa(n), a.cfg.MaxQuantity); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		_ = a.rdb.Del(ctx, keys...).Err()
	}
}
