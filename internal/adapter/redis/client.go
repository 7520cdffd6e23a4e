// Package redis holds the Redis-backed adapters: the durable action queue, the shared liveness cache,
// the live-status board and the cross-instance pass lock.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
)

// keyPrefix namespaces every key this process writes.
const keyPrefix = "livebot:"

// NewClient parses url, installs the metrics and circuit breaker hooks, and pings the server.
func NewClient(ctx context.Context, url string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewMetricsHook(m))
	rdb.AddHook(NewCircuitBreakerHook(m))

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
