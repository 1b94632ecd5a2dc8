package config

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects using REDIS_ADDR (or REDIS_HOST/REDIS_PORT),
// REDIS_PASSWORD, REDIS_DB and REDIS_TLS. A nil client means Redis did not
// answer; the gate limiter and the availability cache then stay off.
func NewRedisClient() *redis.Client {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host := envStr("REDIS_HOST", ""); host != "" {
		addr = net.JoinHostPort(host, envStr("REDIS_PORT", "6379"))
	}
	opts := &redis.Options{
		Addr:         addr,
		Password:     envStr("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
	if envBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
